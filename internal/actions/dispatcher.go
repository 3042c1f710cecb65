// Package actions executes remedies against the catalog and records each
// attempt in the fix history.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/CosmoTheDev/klara-agent/internal/ai"
	"github.com/CosmoTheDev/klara-agent/internal/catalog"
	"github.com/CosmoTheDev/klara-agent/internal/imagesource"
	"github.com/CosmoTheDev/klara-agent/internal/issues"
	"github.com/CosmoTheDev/klara-agent/internal/notify"
	"github.com/CosmoTheDev/klara-agent/internal/preferences"
	"github.com/CosmoTheDev/klara-agent/models"
)

// ContentWriter produces product copy.
type ContentWriter interface {
	Description(ctx context.Context, p *models.Product) (*ai.Generated, error)
	SEOTitle(ctx context.Context, p *models.Product) (*ai.Generated, error)
	SEODescription(ctx context.Context, p *models.Product) (*ai.Generated, error)
	AltText(ctx context.Context, p *models.Product, index int) (*ai.Generated, error)
	SKU(ctx context.Context, p *models.Product, variantIndex int) (*ai.Generated, error)
}

// StockSearcher finds stock photos.
type StockSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]imagesource.Photo, error)
	TrackDownload(ctx context.Context, photo imagesource.Photo)
}

// ImageFetcher downloads and normalises image bytes.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) (*imagesource.Image, error)
}

// HistoryRecorder appends fix history entries.
type HistoryRecorder interface {
	Record(ctx context.Context, e *models.FixHistoryEntry) (int64, error)
}

// IssueStore reads issues and marks them fixed.
type IssueStore interface {
	Get(ctx context.Context, id int64) (*models.Issue, error)
	FindOpen(ctx context.Context, shop, entityID string, t models.IssueType) (*models.Issue, error)
	MarkFixed(ctx context.Context, id int64) error
}

// Deps wires a Dispatcher. Repo and History are required; the rest fall
// back to no-op implementations. Prefs supplies the stored image strategy
// to FixIssue.
type Deps struct {
	Repo     catalog.Repository
	History  HistoryRecorder
	Issues   IssueStore
	Prefs    preferences.Store
	Writer   ContentWriter
	Images   ai.ImageGenerator
	Stock    StockSearcher
	Fetcher  ImageFetcher
	Notifier notify.Notifier
	Logger   *slog.Logger
}

// Request is one remedy to execute.
type Request struct {
	Shop    string
	IssueID *int64
	Action  models.Action
	Source  string
}

// Outcome reports what a dispatch did. Bulk dispatches list one Outcome
// per product in Items.
type Outcome struct {
	Action    models.ActionKind `json:"action"`
	ProductID string            `json:"product_id,omitempty"`
	HistoryID int64             `json:"history_id,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Before    *models.Snapshot  `json:"before,omitempty"`
	After     *models.Snapshot  `json:"after,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Items     []Outcome         `json:"items,omitempty"`
}

// Dispatcher routes actions to their executors.
type Dispatcher struct {
	repo     catalog.Repository
	history  HistoryRecorder
	issues   IssueStore
	prefs    preferences.Store
	writer   ContentWriter
	images   ai.ImageGenerator
	stock    StockSearcher
	fetcher  ImageFetcher
	notifier notify.Notifier
	logger   *slog.Logger
}

// New returns a Dispatcher.
func New(d Deps) *Dispatcher {
	out := &Dispatcher{
		repo:     d.Repo,
		history:  d.History,
		issues:   d.Issues,
		prefs:    d.Prefs,
		writer:   d.Writer,
		images:   d.Images,
		stock:    d.Stock,
		fetcher:  d.Fetcher,
		notifier: d.Notifier,
		logger:   d.Logger,
	}
	if out.writer == nil {
		out.writer = ai.NewWriter(nil)
	}
	if out.images == nil {
		out.images = ai.NoopImageGenerator{}
	}
	if out.notifier == nil {
		out.notifier = (*notify.Dispatcher)(nil)
	}
	if out.logger == nil {
		out.logger = slog.Default()
	}
	return out
}

// change is what an executor produced: the mutation to apply plus the
// state it captured before and the metadata to keep.
type change struct {
	mutation catalog.Mutation
	before   *models.Snapshot
	metadata map[string]string
}

// Dispatch executes req.Action. Unknown actions are logged and rejected
// with ErrUnknownAction before anything is read or written.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Outcome, error) {
	if req.Source == "" {
		req.Source = models.SourceManual
	}
	switch a := normalize(req.Action).(type) {
	case models.FixImageAI:
		return d.single(ctx, req, a.Kind(), a.ProductID, func(p *models.Product) (*change, error) {
			if !a.Style.Valid() {
				return nil, invalid("unknown image style %q", a.Style)
			}
			return d.fixImageAI(ctx, p, a)
		})
	case models.FixImageStock:
		return d.single(ctx, req, a.Kind(), a.ProductID, func(p *models.Product) (*change, error) {
			return d.fixImageStock(ctx, p, a)
		})
	case models.FixSEO:
		return d.single(ctx, req, a.Kind(), a.ProductID, func(p *models.Product) (*change, error) {
			return d.fixSEO(ctx, p, a)
		})
	case models.ImproveDescription:
		return d.single(ctx, req, a.Kind(), a.ProductID, func(p *models.Product) (*change, error) {
			return d.improveDescription(ctx, p, a)
		})
	case models.FixAltText:
		return d.single(ctx, req, a.Kind(), a.ProductID, func(p *models.Product) (*change, error) {
			return d.fixAltText(ctx, p, a)
		})
	case models.FixSKU:
		return d.single(ctx, req, a.Kind(), a.ProductID, func(p *models.Product) (*change, error) {
			return d.fixSKU(ctx, p, a)
		})
	case models.BulkFixImagesAI:
		return d.bulk(ctx, req, a)
	default:
		d.logger.Warn("actions: unknown action, skipping", "action", fmt.Sprintf("%T", req.Action), "shop", req.Shop)
		return nil, ErrUnknownAction
	}
}

// normalize turns pointer variants into values so one switch covers both.
func normalize(a models.Action) models.Action {
	switch v := a.(type) {
	case *models.FixImageAI:
		if v != nil {
			return *v
		}
	case *models.FixImageStock:
		if v != nil {
			return *v
		}
	case *models.FixSEO:
		if v != nil {
			return *v
		}
	case *models.ImproveDescription:
		if v != nil {
			return *v
		}
	case *models.FixAltText:
		if v != nil {
			return *v
		}
	case *models.FixSKU:
		if v != nil {
			return *v
		}
	case *models.BulkFixImagesAI:
		if v != nil {
			return *v
		}
	default:
		return a
	}
	return nil
}

// single runs one product-level remedy. Validation failures and unknown
// products return before anything is recorded; every later failure is
// recorded with success=false.
func (d *Dispatcher) single(ctx context.Context, req Request, kind models.ActionKind, productID string, build func(*models.Product) (*change, error)) (*Outcome, error) {
	if productID == "" {
		return nil, invalid("%s: product id is required", kind)
	}
	product, err := d.repo.Product(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("loading product %s: %w", productID, err)
	}

	ch, err := build(product)
	if errors.Is(err, ErrInvalidAction) {
		return nil, err
	}

	entry := &models.FixHistoryEntry{
		Shop:      req.Shop,
		IssueID:   req.IssueID,
		ProductID: productID,
		Action:    kind,
		Source:    req.Source,
		CreatedAt: time.Now().UTC(),
	}
	if ch != nil {
		entry.Before = ch.before
		entry.Metadata = ch.metadata
	}
	if entry.Metadata == nil {
		entry.Metadata = map[string]string{}
	}
	entry.Metadata["source"] = req.Source

	if err == nil {
		var updated *models.Product
		updated, err = d.repo.Apply(ctx, ch.mutation)
		if err != nil {
			err = &MutationError{ProductID: productID, Err: err}
		} else {
			entry.After = snapshotAfter(updated, ch)
		}
	}
	entry.Success = err == nil
	if err != nil {
		entry.ErrorMessage = err.Error()
	}

	outcome := &Outcome{
		Action:    kind,
		ProductID: productID,
		Success:   entry.Success,
		Error:     entry.ErrorMessage,
		Before:    entry.Before,
		After:     entry.After,
		Metadata:  entry.Metadata,
	}
	id, recErr := d.history.Record(ctx, entry)
	if recErr != nil {
		d.logger.Error("actions: recording fix history failed", "action", kind, "product", productID, "error", recErr)
	}
	outcome.HistoryID = id

	if err != nil {
		d.logger.Warn("actions: fix failed", "action", kind, "product", productID, "source", req.Source, "error", err)
		d.notify(ctx, req, outcome, notify.EventFixFailed, "")
		return outcome, err
	}

	severity := ""
	if req.IssueID != nil && d.issues != nil {
		if iss, gerr := d.issues.Get(ctx, *req.IssueID); gerr == nil {
			severity = string(iss.Severity())
		}
		if merr := d.issues.MarkFixed(ctx, *req.IssueID); merr != nil {
			d.logger.Error("actions: marking issue fixed failed", "issue", *req.IssueID, "error", merr)
		}
	}
	d.logger.Info("actions: fix applied", "action", kind, "product", productID, "source", req.Source, "history", id)
	d.notify(ctx, req, outcome, notify.EventFixApplied, severity)
	return outcome, nil
}

// bulk dispatches one FixImageAI per product and keeps going past failures.
// The returned error is the first per-product failure, if any.
func (d *Dispatcher) bulk(ctx context.Context, req Request, a models.BulkFixImagesAI) (*Outcome, error) {
	if !a.Style.Valid() {
		return nil, invalid("unknown image style %q", a.Style)
	}
	outcome := &Outcome{Action: a.Kind(), Success: true}
	var firstErr error
	for _, pid := range a.ProductIDs {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}
		item, err := d.Dispatch(ctx, Request{
			Shop:    req.Shop,
			IssueID: d.openIssue(ctx, req.Shop, pid, models.IssueMissingImages),
			Action:  models.FixImageAI{ProductID: pid, Style: a.Style},
			Source:  req.Source,
		})
		if item == nil {
			item = &Outcome{Action: models.ActionFixImageAI, ProductID: pid}
			if err != nil {
				item.Error = err.Error()
			}
		}
		outcome.Items = append(outcome.Items, *item)
		if err != nil {
			outcome.Success = false
			if firstErr == nil {
				firstErr = err
			}
			d.logger.Warn("actions: bulk item failed, continuing", "product", pid, "error", err)
		}
	}
	return outcome, firstErr
}

// openIssue returns the id of the open issue of type t on entityID so a
// per-product fix inside a bulk run closes it. Lookup failures only mean
// nothing gets marked.
func (d *Dispatcher) openIssue(ctx context.Context, shop, entityID string, t models.IssueType) *int64 {
	if d.issues == nil {
		return nil
	}
	iss, err := d.issues.FindOpen(ctx, shop, entityID, t)
	if err != nil {
		if !errors.Is(err, issues.ErrNotFound) {
			d.logger.Warn("actions: issue lookup failed", "entity", entityID, "type", t, "error", err)
		}
		return nil
	}
	return &iss.ID
}

func (d *Dispatcher) notify(ctx context.Context, req Request, o *Outcome, eventType, severity string) {
	title := fmt.Sprintf("%s applied to %s", o.Action, o.ProductID)
	if eventType == notify.EventFixFailed {
		title = fmt.Sprintf("%s failed for %s", o.Action, o.ProductID)
	}
	d.notifier.Notify(ctx, notify.Event{
		Type:     eventType,
		Title:    title,
		Body:     o.Error,
		Severity: severity,
		Shop:     req.Shop,
		Metadata: map[string]any{
			"history_id": o.HistoryID,
			"source":     req.Source,
			"action":     string(o.Action),
		},
	})
}

// snapshotAfter captures the same fields as before from the updated product.
func snapshotAfter(p *models.Product, ch *change) *models.Snapshot {
	after := &models.Snapshot{ProductID: p.ID}
	b := ch.before
	if b == nil {
		return after
	}
	if b.DescriptionHTML != nil {
		after.DescriptionHTML = models.StringPtr(p.DescriptionHTML)
	}
	if b.SEOTitle != nil {
		after.SEOTitle = models.StringPtr(p.SEO.Title)
	}
	if b.SEODescription != nil {
		after.SEODescription = models.StringPtr(p.SEO.Description)
	}
	if b.ImageID != "" {
		after.ImageID = b.ImageID
		if img, ok := p.ImageByID(b.ImageID); ok {
			after.AltText = models.StringPtr(img.AltText)
		}
	}
	if b.VariantID != "" {
		after.VariantID = b.VariantID
		if v, ok := p.VariantByID(b.VariantID); ok {
			after.SKU = models.StringPtr(v.SKU)
		}
	}
	if b.Images != nil {
		after.Images = append([]models.Image{}, p.Images...)
	}
	return after
}
