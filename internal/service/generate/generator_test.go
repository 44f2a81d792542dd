package generate

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sewline/internal/storage"
)

type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) GetOperationTemplate(ctx context.Context, garmentTypeID string) (*storage.OperationTemplate, error) {
	args := m.Called(ctx, garmentTypeID)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	tmpl, ok := args.Get(0).(*storage.OperationTemplate)
	if !ok {
		return nil, fmt.Errorf("expected *storage.OperationTemplate, got %T", args.Get(0))
	}

	return tmpl, args.Error(1)
}

type MockStore struct {
	mock.Mock

	saved []*storage.WorkItem
}

func (m *MockStore) SaveWipLot(ctx context.Context, lot *storage.WipLot) error {
	args := m.Called(ctx, lot)
	return args.Error(0)
}

func (m *MockStore) SaveWorkItems(ctx context.Context, items []*storage.WorkItem) error {
	m.saved = append(m.saved, items...)
	args := m.Called(ctx, items)
	return args.Error(0)
}

func tshirtTemplate() *storage.OperationTemplate {
	return &storage.OperationTemplate{
		GarmentTypeID: "tshirt",
		Steps: []storage.TemplateStep{
			{Operation: "cut", MachineType: "cutting_table", EstimatedMinutes: 5, WorkflowKind: storage.WorkflowSequential},
			{Operation: "sew_shoulders", MachineType: "overlock", EstimatedMinutes: 8, WorkflowKind: storage.WorkflowSequential, DependsOn: []string{"cut"}},
			{Operation: "hem", MachineType: "flatlock", EstimatedMinutes: 6, WorkflowKind: storage.WorkflowSequential, DependsOn: []string{"sew_shoulders"}},
		},
	}
}

func testLot(sizes, ratios string) storage.WipLot {
	return storage.WipLot{
		LotNumber:   "LOT-77",
		FabricType:  "jersey",
		FabricColor: "Blue",
		Rolls: []storage.Roll{
			{RollNumber: "R1", Color: "Blue", LayerCount: 10},
		},
		Articles: []storage.ArticleConfig{
			{Article: "ART-1", GarmentTypeID: "tshirt", Sizes: sizes, Ratios: ratios},
		},
	}
}

func TestGenerate_PieceCounts(t *testing.T) {
	catalog := new(MockCatalog)
	store := new(MockStore)

	catalog.On("GetOperationTemplate", mock.Anything, "tshirt").Return(tshirtTemplate(), nil)
	store.On("SaveWipLot", mock.Anything, mock.Anything).Return(nil)
	store.On("SaveWorkItems", mock.Anything, mock.Anything).Return(nil)

	service := NewService(store, catalog)

	result, err := service.Generate(context.Background(), testLot("S,M", "1,2"))

	require.NoError(t, err)
	assert.Empty(t, result.Skipped)

	// 2 bundles (S, M) x 3 template steps.
	assert.Equal(t, 6, len(result.Items))

	pieces := map[string]int{}
	for _, item := range result.Items {
		pieces[item.Size] = item.PieceCount
	}
	assert.Equal(t, 10, pieces["S"])
	assert.Equal(t, 20, pieces["M"])

	catalog.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestGenerate_DependencyTranslation(t *testing.T) {
	catalog := new(MockCatalog)
	store := new(MockStore)

	catalog.On("GetOperationTemplate", mock.Anything, "tshirt").Return(tshirtTemplate(), nil)
	store.On("SaveWipLot", mock.Anything, mock.Anything).Return(nil)
	store.On("SaveWorkItems", mock.Anything, mock.Anything).Return(nil)

	service := NewService(store, catalog)

	result, err := service.Generate(context.Background(), testLot("S", "1"))
	require.NoError(t, err)
	require.Equal(t, 3, len(result.Items))

	byOp := map[string]*storage.WorkItem{}
	for _, item := range result.Items {
		byOp[item.Operation] = item
	}

	cut := byOp["cut"]
	sew := byOp["sew_shoulders"]
	hem := byOp["hem"]

	// A step with no dependencies starts ready; the rest pending.
	assert.Equal(t, storage.StatusReady, cut.Status)
	assert.Empty(t, cut.Dependencies)

	assert.Equal(t, storage.StatusPending, sew.Status)
	assert.Equal(t, []string{cut.ID}, sew.Dependencies)

	assert.Equal(t, storage.StatusPending, hem.Status)
	assert.Equal(t, []string{sew.ID}, hem.Dependencies)

	assert.Equal(t, []string{sew.ID}, cut.Successors)

	// All items of one bundle share bundle and workflow ids.
	assert.Equal(t, cut.BundleID, sew.BundleID)
	assert.Equal(t, cut.WorkflowID, hem.WorkflowID)
	assert.Equal(t, "ART-1-S-Blue-R1", cut.BundleID)
}

func TestGenerate_UnknownGarmentTypeFallsBack(t *testing.T) {
	catalog := new(MockCatalog)
	store := new(MockStore)

	catalog.On("GetOperationTemplate", mock.Anything, "tshirt").Return(nil, storage.ErrNotFound)
	store.On("SaveWipLot", mock.Anything, mock.Anything).Return(nil)
	store.On("SaveWorkItems", mock.Anything, mock.Anything).Return(nil)

	service := NewService(store, catalog)

	result, err := service.Generate(context.Background(), testLot("S", "1"))
	require.NoError(t, err)

	// Never zero operations: the single-step fallback applies.
	require.Equal(t, 1, len(result.Items))
	assert.Equal(t, "complete_garment", result.Items[0].Operation)
	assert.Equal(t, storage.StatusReady, result.Items[0].Status)
}

func TestGenerate_RatioMismatchSkipsBundle(t *testing.T) {
	catalog := new(MockCatalog)
	store := new(MockStore)

	catalog.On("GetOperationTemplate", mock.Anything, "tshirt").Return(tshirtTemplate(), nil)
	store.On("SaveWipLot", mock.Anything, mock.Anything).Return(nil)

	service := NewService(store, catalog)

	result, err := service.Generate(context.Background(), testLot("S,M,L", "1,2"))

	// A malformed article is reported, not fatal.
	require.NoError(t, err)
	assert.Empty(t, result.Items)
	require.Equal(t, 1, len(result.Skipped))
	assert.Equal(t, "ART-1", result.Skipped[0].Article)
	assert.Contains(t, result.Skipped[0].Reason, "mismatch")

	store.AssertNotCalled(t, "SaveWorkItems", mock.Anything, mock.Anything)
}

func TestGenerate_MalformedRatioSkipsBundle(t *testing.T) {
	catalog := new(MockCatalog)
	store := new(MockStore)

	catalog.On("GetOperationTemplate", mock.Anything, "tshirt").Return(tshirtTemplate(), nil)
	store.On("SaveWipLot", mock.Anything, mock.Anything).Return(nil)

	service := NewService(store, catalog)

	result, err := service.Generate(context.Background(), testLot("S,M", "1,two"))

	require.NoError(t, err)
	assert.Empty(t, result.Items)
	require.Equal(t, 1, len(result.Skipped))
	assert.Contains(t, result.Skipped[0].Reason, "malformed ratio")
}

func TestGenerate_CyclicTemplateRejected(t *testing.T) {
	catalog := new(MockCatalog)
	store := new(MockStore)

	cyclic := &storage.OperationTemplate{
		GarmentTypeID: "tshirt",
		Steps: []storage.TemplateStep{
			{Operation: "a", MachineType: "overlock", DependsOn: []string{"b"}},
			{Operation: "b", MachineType: "overlock", DependsOn: []string{"a"}},
		},
	}

	catalog.On("GetOperationTemplate", mock.Anything, "tshirt").Return(cyclic, nil)
	store.On("SaveWipLot", mock.Anything, mock.Anything).Return(nil)

	service := NewService(store, catalog)

	_, err := service.Generate(context.Background(), testLot("S", "1"))
	assert.ErrorIs(t, err, storage.ErrCycleDetected)
}

func TestGenerate_ParallelGroupItems(t *testing.T) {
	catalog := new(MockCatalog)
	store := new(MockStore)

	tmpl := &storage.OperationTemplate{
		GarmentTypeID: "tshirt",
		Steps: []storage.TemplateStep{
			{Operation: "cut", MachineType: "cutting_table", WorkflowKind: storage.WorkflowSequential},
			{Operation: "sleeve_left", MachineType: "overlock", WorkflowKind: storage.WorkflowParallel, ParallelGroup: "sleeves", DependsOn: []string{"cut"}},
			{Operation: "sleeve_right", MachineType: "overlock", WorkflowKind: storage.WorkflowParallel, ParallelGroup: "sleeves", DependsOn: []string{"cut"}},
		},
	}

	catalog.On("GetOperationTemplate", mock.Anything, "tshirt").Return(tmpl, nil)
	store.On("SaveWipLot", mock.Anything, mock.Anything).Return(nil)
	store.On("SaveWorkItems", mock.Anything, mock.Anything).Return(nil)

	service := NewService(store, catalog)

	result, err := service.Generate(context.Background(), testLot("S", "1"))
	require.NoError(t, err)
	require.Equal(t, 3, len(result.Items))

	var group []string
	for _, item := range result.Items {
		if item.ParallelGroup == "sleeves" {
			group = append(group, item.Operation)
			// Group members depend on the shared predecessor, not each other.
			assert.Equal(t, 1, len(item.Dependencies))
		}
	}
	assert.ElementsMatch(t, []string{"sleeve_left", "sleeve_right"}, group)
}

func TestSplitList_Delimiters(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"S,M,L", []string{"S", "M", "L"}},
		{"S; M; L", []string{"S", "M", "L"}},
		{"S / M / L", []string{"S", "M", "L"}},
		{"S|M|L", []string{"S", "M", "L"}},
		{"  S , , M  ", []string{"S", "M"}},
		{"", nil},
	}

	for _, tc := range cases {
		got := splitList(tc.in)
		if tc.want == nil {
			assert.Empty(t, got, "input %q", tc.in)
			continue
		}
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}
