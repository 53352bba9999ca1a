package yolo

import (
	"reflect"
	"testing"
)

func TestParseClassNames(t *testing.T) {
	got := ParseClassNames(`{0: 'plane', 1: "ship", 2: 'storage tank'}`)
	want := []string{"plane", "ship", "storage tank"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseClassNames = %v, want %v", got, want)
	}
}

func TestParseClassNames_Fallback(t *testing.T) {
	for _, raw := range []string{"", "{}", "{0: 1}"} {
		got := ParseClassNames(raw)
		if len(got) != 80 || got[0] != "person" || got[79] != "toothbrush" {
			t.Fatalf("%q: 期望回退到 COCO 80 类, 实际 %d 类", raw, len(got))
		}
	}
}

func TestClassName(t *testing.T) {
	names := []string{"a", "b"}
	if className(names, 1) != "b" {
		t.Fatal("期望 b")
	}
	if className(names, 5) != "class_5" {
		t.Fatalf("越界时期望 class_5, 实际 %s", className(names, 5))
	}
}
