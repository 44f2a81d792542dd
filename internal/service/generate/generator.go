package generate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sewline/internal/storage"
)

type Catalog interface {
	GetOperationTemplate(ctx context.Context, garmentTypeID string) (*storage.OperationTemplate, error)
}

type Store interface {
	SaveWipLot(ctx context.Context, lot *storage.WipLot) error
	SaveWorkItems(ctx context.Context, items []*storage.WorkItem) error
}

// Service expands one WIP lot into the dependency-ordered set of work items,
// one DAG per (article, size, color, roll) bundle.
type Service struct {
	storage Store
	catalog Catalog
}

func NewService(store Store, catalog Catalog) *Service {
	return &Service{storage: store, catalog: catalog}
}

// SkippedBundle reports an article whose size/ratio configuration could not
// be parsed. Partial generation is preferable to aborting the whole lot.
type SkippedBundle struct {
	Article string `json:"article"`
	Reason  string `json:"reason"`
}

type Result struct {
	Items   []*storage.WorkItem `json:"items"`
	Skipped []SkippedBundle     `json:"skipped,omitempty"`
}

func (s *Service) Generate(ctx context.Context, lot storage.WipLot) (*Result, error) {
	const op = "service.generate.Generate"

	if lot.Status == "" {
		lot.Status = storage.LotActive
	}
	if lot.CreatedAt.IsZero() {
		lot.CreatedAt = time.Now()
	}

	if err := s.storage.SaveWipLot(ctx, &lot); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	templates, err := s.fetchTemplates(ctx, lot.Articles)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	workflowID := uuid.NewString()
	result := &Result{}

	for _, art := range lot.Articles {
		sizes := splitList(art.Sizes)
		ratios, err := parseRatios(art.Ratios)
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedBundle{
				Article: art.Article,
				Reason:  err.Error(),
			})
			continue
		}
		if len(sizes) != len(ratios) {
			result.Skipped = append(result.Skipped, SkippedBundle{
				Article: art.Article,
				Reason:  fmt.Sprintf("size/ratio count mismatch: %d sizes, %d ratios", len(sizes), len(ratios)),
			})
			continue
		}
		if len(sizes) == 0 {
			result.Skipped = append(result.Skipped, SkippedBundle{
				Article: art.Article,
				Reason:  "no sizes configured",
			})
			continue
		}

		tmpl := templates[art.GarmentTypeID]

		for _, roll := range lot.Rolls {
			color := roll.Color
			if color == "" {
				color = lot.FabricColor
			}

			for i, size := range sizes {
				if ratios[i] <= 0 {
					continue
				}
				pieces := ratios[i] * roll.LayerCount

				bundle := bundleSpec{
					lotNumber:  lot.LotNumber,
					workflowID: workflowID,
					article:    art.Article,
					size:       size,
					color:      color,
					rollNumber: roll.RollNumber,
					pieces:     pieces,
				}

				items, err := materializeBundle(bundle, tmpl)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", op, err)
				}
				result.Items = append(result.Items, items...)
			}
		}
	}

	if len(result.Items) > 0 {
		if err := s.storage.SaveWorkItems(ctx, result.Items); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	return result, nil
}

func (s *Service) fetchTemplates(ctx context.Context, articles []storage.ArticleConfig) (map[string]*storage.OperationTemplate, error) {
	garmentTypes := make(map[string]bool)
	for _, art := range articles {
		garmentTypes[art.GarmentTypeID] = true
	}

	var mu sync.Mutex
	templates := make(map[string]*storage.OperationTemplate, len(garmentTypes))

	g, gCtx := errgroup.WithContext(ctx)
	for gt := range garmentTypes {
		g.Go(func() error {
			tmpl, err := s.catalog.GetOperationTemplate(gCtx, gt)
			if errors.Is(err, storage.ErrNotFound) {
				// Unknown garment type never yields zero operations.
				tmpl = fallbackTemplate(gt)
			} else if err != nil {
				return fmt.Errorf("template %s: %w", gt, err)
			}

			mu.Lock()
			templates[gt] = tmpl
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return templates, nil
}

func fallbackTemplate(garmentTypeID string) *storage.OperationTemplate {
	return &storage.OperationTemplate{
		GarmentTypeID: garmentTypeID,
		Steps: []storage.TemplateStep{
			{
				Operation:        "complete_garment",
				MachineType:      "single_needle",
				EstimatedMinutes: 15,
				WorkflowKind:     storage.WorkflowSequential,
			},
		},
	}
}

type bundleSpec struct {
	lotNumber  string
	workflowID string
	article    string
	size       string
	color      string
	rollNumber string
	pieces     int
}

// materializeBundle turns the template into concrete work items, translating
// step-name dependency references into work item ids within the bundle.
func materializeBundle(bundle bundleSpec, tmpl *storage.OperationTemplate) ([]*storage.WorkItem, error) {
	bundleID := fmt.Sprintf("%s-%s-%s-%s", bundle.article, bundle.size, bundle.color, bundle.rollNumber)
	now := time.Now()

	idByOperation := make(map[string]string, len(tmpl.Steps))
	for _, step := range tmpl.Steps {
		idByOperation[step.Operation] = uuid.NewString()
	}

	items := make([]*storage.WorkItem, 0, len(tmpl.Steps))
	successors := make(map[string][]string)

	for i, step := range tmpl.Steps {
		id := idByOperation[step.Operation]

		var deps []string
		for _, depName := range step.DependsOn {
			depID, ok := idByOperation[depName]
			if !ok {
				// Template references a step it does not contain; drop the
				// reference rather than fail the bundle.
				continue
			}
			deps = append(deps, depID)
			successors[depID] = append(successors[depID], id)
		}

		status := storage.StatusReady
		if len(deps) > 0 {
			status = storage.StatusPending
		}

		kind := step.WorkflowKind
		if kind == "" {
			kind = storage.WorkflowSequential
		}

		items = append(items, &storage.WorkItem{
			ID:               id,
			LotNumber:        bundle.lotNumber,
			BundleID:         bundleID,
			WorkflowID:       bundle.workflowID,
			Article:          bundle.article,
			Size:             bundle.size,
			Color:            bundle.color,
			RollNumber:       bundle.rollNumber,
			PieceCount:       bundle.pieces,
			Operation:        step.Operation,
			MachineType:      step.MachineType,
			EstimatedMinutes: step.EstimatedMinutes,
			WorkflowKind:     kind,
			ParallelGroup:    step.ParallelGroup,
			Dependencies:     deps,
			Predecessors:     deps,
			SequencePosition: float64(i + 1),
			Status:           status,
			CreatedAt:        now,
		})
	}

	for _, item := range items {
		item.Successors = successors[item.ID]
	}

	if err := checkAcyclic(items); err != nil {
		return nil, fmt.Errorf("bundle %s: %w", bundleID, err)
	}

	return items, nil
}

// checkAcyclic runs Kahn's algorithm over one bundle's dependency relation.
func checkAcyclic(items []*storage.WorkItem) error {
	indegree := make(map[string]int, len(items))
	dependents := make(map[string][]string)

	for _, item := range items {
		indegree[item.ID] = 0
	}
	for _, item := range items {
		for _, dep := range item.Dependencies {
			if dep == item.ID {
				return fmt.Errorf("work item %s depends on itself: %w", item.ID, storage.ErrCycleDetected)
			}
			indegree[item.ID]++
			dependents[dep] = append(dependents[dep], item.ID)
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++

		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(items) {
		return storage.ErrCycleDetected
	}
	return nil
}

// splitList tolerates the delimiters operators actually type: commas,
// semicolons, slashes, pipes and plain whitespace.
func splitList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == '/' || r == '|' || unicode.IsSpace(r)
	})

	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func parseRatios(raw string) ([]int, error) {
	tokens := splitList(raw)
	ratios := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("malformed ratio %q", tok)
		}
		ratios = append(ratios, n)
	}
	return ratios, nil
}
