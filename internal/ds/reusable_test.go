package ds

import "testing"

func TestReusableVectorIndexStability(t *testing.T) {
	v := NewReusableVector[string]()
	a := v.Add("a")
	b := v.Add("b")
	c := v.Add("c")

	if a != 0 || b != 1 || c != 2 {
		t.Fatalf("expected sequential indices, got %d %d %d", a, b, c)
	}

	if _, ok := v.Remove(b); !ok {
		t.Fatalf("expected Remove(b) to succeed")
	}

	d := v.Add("d")
	if d != b {
		t.Fatalf("expected Add to reuse freed index %d, got %d", b, d)
	}

	if got, ok := v.Get(a); !ok || *got != "a" {
		t.Fatalf("index a's value should survive unrelated removal, got %v ok=%v", got, ok)
	}
	if got, ok := v.Get(c); !ok || *got != "c" {
		t.Fatalf("index c's value should survive unrelated removal, got %v ok=%v", got, ok)
	}
}

func TestReusableVectorRemoveUnknownFails(t *testing.T) {
	v := NewReusableVector[int]()
	idx := v.Add(1)
	if _, ok := v.Remove(idx); !ok {
		t.Fatalf("expected first removal to succeed")
	}
	if _, ok := v.Remove(idx); ok {
		t.Fatalf("expected second removal of the same index to fail")
	}
	if v.IsLive(idx) {
		t.Fatalf("removed index should not be live")
	}
}

func TestReusableVectorLenAndCap(t *testing.T) {
	v := NewReusableVector[int]()
	v.Add(1)
	v.Add(2)
	idx := v.Add(3)
	v.Remove(idx)

	if v.Len() != 2 {
		t.Fatalf("expected Len()=2, got %d", v.Len())
	}
	if v.Cap() != 3 {
		t.Fatalf("expected Cap()=3 (freed slot still allocated), got %d", v.Cap())
	}
}

func TestReusableVectorEachVisitsOnlyLive(t *testing.T) {
	v := NewReusableVector[int]()
	v.Add(10)
	mid := v.Add(20)
	v.Add(30)
	v.Remove(mid)

	seen := map[uint32]int{}
	v.Each(func(idx uint32, val *int) {
		seen[idx] = *val
	})

	if len(seen) != 2 {
		t.Fatalf("expected 2 live entries, got %d", len(seen))
	}
	if _, ok := seen[mid]; ok {
		t.Fatalf("removed index %d should not be visited", mid)
	}
}
