package modelbundle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakeBinder tracks allocate/release calls without touching any GPU state,
// standing in for a pipelinebind variant.
type fakeBinder struct {
	next     uint32
	released []uint32
}

func (f *fakeBinder) AllocateBuffers() (uint32, error) {
	h := f.next
	f.next++
	return h, nil
}

func (f *fakeBinder) Release(modelIdx uint32) {
	f.released = append(f.released, modelIdx)
}

func newBundleWithModels(t *testing.T, counts ...int) (*Bundle, []uint32) {
	t.Helper()
	b := New()
	indices := make([]uint32, len(counts))
	for i, count := range counts {
		idx, err := b.AddNewPipelinesFromBundle(&fakeBinder{})
		assert.NoError(t, err)
		indices[i] = idx
		// AddNewPipelinesFromBundle already reserved one slot.
		for n := 1; n < count; n++ {
			assert.NoError(t, b.SetupPipelineBuffers(idx))
		}
	}
	return b, indices
}

func TestAddNewPipelinesFromBundleReturnsStableHandleAndOneModel(t *testing.T) {
	b := New()
	binder := &fakeBinder{}
	idx, err := b.AddNewPipelinesFromBundle(binder)
	assert.NoError(t, err)
	assert.Equal(t, uint32(0), idx)
	assert.Equal(t, 1, b.BinderCount())

	count, err := b.ModelCount(idx)
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

// TestReconfigureModelsMovesOneModelBetweenPipelines reproduces the worked
// example of two pipelines holding {5, 5} models: after moving one model
// from pipeline 0 to pipeline 1, the records read {4, 6}.
func TestReconfigureModelsMovesOneModelBetweenPipelines(t *testing.T) {
	b, idx := newBundleWithModels(t, 5, 5)

	err := b.ReconfigureModels(idx[0], idx[1])
	assert.NoError(t, err)

	count0, err := b.ModelCount(idx[0])
	assert.NoError(t, err)
	assert.Equal(t, 4, count0)

	count1, err := b.ModelCount(idx[1])
	assert.NoError(t, err)
	assert.Equal(t, 6, count1)
}

func TestReconfigureModelsSameIndexIsNoOp(t *testing.T) {
	b, idx := newBundleWithModels(t, 5)

	err := b.ReconfigureModels(idx[0], idx[0])
	assert.NoError(t, err)

	count, err := b.ModelCount(idx[0])
	assert.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestReconfigureModelsDecreasedBinderEmptiesAtZero(t *testing.T) {
	b, idx := newBundleWithModels(t, 1, 1)

	err := b.ReconfigureModels(idx[0], idx[1])
	assert.NoError(t, err)

	count, err := b.ModelCount(idx[0])
	assert.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestReconfigureModelsUnknownPipelineFails(t *testing.T) {
	b, idx := newBundleWithModels(t, 1)
	err := b.ReconfigureModels(idx[0], 7)
	assert.Error(t, err)

	err = b.ReconfigureModels(7, idx[0])
	assert.Error(t, err)
}

func TestSetupPipelineBuffersAllocatesOneMoreModel(t *testing.T) {
	b := New()
	binder := &fakeBinder{}
	idx, err := b.AddNewPipelinesFromBundle(binder)
	assert.NoError(t, err)

	assert.NoError(t, b.SetupPipelineBuffers(idx))
	assert.NoError(t, b.SetupPipelineBuffers(idx))

	count, err := b.ModelCount(idx)
	assert.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, uint32(3), binder.next)
}

func TestReleaseDecrementsAndCallsBinder(t *testing.T) {
	b := New()
	binder := &fakeBinder{}
	idx, err := b.AddNewPipelinesFromBundle(binder)
	assert.NoError(t, err)

	assert.NoError(t, b.Release(idx, 0))
	assert.Equal(t, []uint32{0}, binder.released)

	count, err := b.ModelCount(idx)
	assert.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestCleanupDataRemovesAllBinders(t *testing.T) {
	b := New()
	b.AddNewPipelinesFromBundle(&fakeBinder{})
	b.AddNewPipelinesFromBundle(&fakeBinder{})

	b.CleanupData()
	assert.Equal(t, 0, b.BinderCount())
}
