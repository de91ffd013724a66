package engine

import "testing"

func TestBufferManagerByteSizeInvariant(t *testing.T) {
	catalog := NewBindingCatalog([]BindingInfo{
		{Name: "input", DType: DTypeF32, VectorizedDim: -1, ComponentsPerElement: 1, IsInput: true},
		{Name: "scores", DType: DTypeF32, VectorizedDim: -1, ComponentsPerElement: 1, IsInput: false},
	})
	dims := []Dims{
		{Extents: []int64{1, 3, 240, 320}},
		{Extents: []int64{1, 4420, 2}},
	}

	bm, err := NewBufferManager(catalog, dims, 0)
	if err != nil {
		t.Fatalf("NewBufferManager: %v", err)
	}

	for i, b := range catalog.Bindings() {
		want := uint64(dims[i].Volume()) * uint64(b.DType.ElemSize())
		got := bm.Size(b.Name)
		if got != want {
			t.Fatalf("binding %q size = %d, want %d", b.Name, got, want)
		}
		if uint64(len(bm.HostBuffer(b.Name))) != got {
			t.Fatalf("binding %q host bytes = %d, want %d", b.Name, len(bm.HostBuffer(b.Name)), got)
		}
		if uint64(len(bm.DeviceBuffer(b.Name))) != got {
			t.Fatalf("binding %q device bytes = %d, want %d", b.Name, len(bm.DeviceBuffer(b.Name)), got)
		}
	}
}

func TestBufferManagerUnknownNameIsRecoverableMiss(t *testing.T) {
	catalog := NewBindingCatalog([]BindingInfo{
		{Name: "input", DType: DTypeF32, VectorizedDim: -1, ComponentsPerElement: 1, IsInput: true},
	})
	bm, err := NewBufferManager(catalog, []Dims{{Extents: []int64{1, 3, 4, 4}}}, 0)
	if err != nil {
		t.Fatalf("NewBufferManager: %v", err)
	}

	if bm.Size("nope") != InvalidSize {
		t.Fatalf("Size(unknown) = %d, want InvalidSize", bm.Size("nope"))
	}
	if bm.HostBuffer("nope") != nil {
		t.Fatalf("HostBuffer(unknown) should be nil")
	}
	if bm.DeviceBuffer("nope") != nil {
		t.Fatalf("DeviceBuffer(unknown) should be nil")
	}
}

func TestBufferManagerVectorizedDimSizing(t *testing.T) {
	// 5 elements packed 4-per-vector along dim 1 rounds up to 2 vectors of 4.
	catalog := NewBindingCatalog([]BindingInfo{
		{Name: "packed", DType: DTypeI8, VectorizedDim: 1, ComponentsPerElement: 4, IsInput: true},
	})
	dims := []Dims{{Extents: []int64{1, 5}}}

	bm, err := NewBufferManager(catalog, dims, 0)
	if err != nil {
		t.Fatalf("NewBufferManager: %v", err)
	}
	// ceil(5/4) = 2, *4 (componentsPerElement) = 8, * dim0(1) = 8 elements * 1 byte.
	want := uint64(8)
	if got := bm.Size("packed"); got != want {
		t.Fatalf("Size(packed) = %d, want %d", got, want)
	}
}

func TestManagedBufferPairCopyRoundTrip(t *testing.T) {
	pair, err := newManagedBufferPair(4, DTypeF32)
	if err != nil {
		t.Fatalf("newManagedBufferPair: %v", err)
	}
	for i := range pair.host {
		pair.host[i] = byte(i + 1)
	}
	pair.CopyHostToDevice()
	for i := range pair.device {
		if pair.device[i] != pair.host[i] {
			t.Fatalf("device[%d] = %d, want %d", i, pair.device[i], pair.host[i])
		}
	}

	for i := range pair.host {
		pair.host[i] = 0
	}
	pair.CopyDeviceToHost()
	for i := range pair.host {
		if pair.host[i] != byte(i+1) {
			t.Fatalf("host[%d] after device->host copy = %d, want %d", i, pair.host[i], i+1)
		}
	}
}

func TestManagedBufferPairResizeKeepsCapacityWhenShrinking(t *testing.T) {
	pair, err := newManagedBufferPair(8, DTypeF32)
	if err != nil {
		t.Fatalf("newManagedBufferPair: %v", err)
	}
	originalHost := pair.host
	pair.Resize(4)
	if len(pair.host) != len(originalHost) {
		t.Fatalf("shrinking should not reallocate: len=%d, want %d", len(pair.host), len(originalHost))
	}
	if pair.Bytes() != 4*DTypeF32.ElemSize() {
		t.Fatalf("Bytes() = %d, want %d", pair.Bytes(), 4*DTypeF32.ElemSize())
	}
}
