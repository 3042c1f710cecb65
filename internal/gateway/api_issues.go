package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/CosmoTheDev/klara-agent/internal/actions"
	"github.com/CosmoTheDev/klara-agent/internal/imagesource"
	"github.com/CosmoTheDev/klara-agent/internal/issues"
	"github.com/CosmoTheDev/klara-agent/models"
)

// issueView adds the derived taxonomy fields to a stored issue.
type issueView struct {
	models.Issue
	Severity models.SeverityLevel `json:"severity"`
	Category models.Category      `json:"category"`
	Impact   string               `json:"impact,omitempty"`
	Fixable  bool                 `json:"fixable"`
}

func viewIssue(iss models.Issue) issueView {
	info := iss.Info()
	// Image issues are fixable once a strategy is chosen, so ask with one.
	_, err := actions.ActionForIssue(&iss, actions.FixOptions{ImageStrategy: "AI"})
	return issueView{
		Issue:    iss,
		Severity: info.Severity,
		Category: info.Category,
		Impact:   info.Impact,
		Fixable:  err == nil,
	}
}

func viewIssues(list []models.Issue) []issueView {
	out := make([]issueView, 0, len(list))
	for _, iss := range list {
		out = append(out, viewIssue(iss))
	}
	return out
}

// fixRequest is the body for POST /api/issues/{id}/fix.
type fixRequest struct {
	Value         string            `json:"value"`
	ImageStrategy string            `json:"image_strategy"`
	Style         models.ImageStyle `json:"style"`
	Query         string            `json:"query"`
	PhotoURL      string            `json:"photo_url"`
}

// actionRequest is the body for POST /api/actions.
type actionRequest struct {
	models.ActionEnvelope
	IssueID *int64 `json:"issue_id,omitempty"`
}

func (gw *Gateway) handleStoreHealth(w http.ResponseWriter, r *http.Request) {
	h, err := gw.svc.Issues.Health(r.Context(), gw.svc.Shop)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (gw *Gateway) handleListIssues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := strings.ToLower(strings.TrimSpace(q.Get("status")))
	switch status {
	case "", models.IssueStatusOpen, models.IssueStatusFixed:
	default:
		writeError(w, http.StatusBadRequest, "status must be open or fixed")
		return
	}
	f := issues.Filter{
		Status:    status,
		IssueType: models.IssueType(strings.TrimSpace(q.Get("type"))),
		Limit:     parseLimit(r, 100, 1000),
	}
	list, err := gw.svc.Issues.List(r.Context(), gw.svc.Shop, f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewIssues(list))
}

func (gw *Gateway) handleTopIssues(w http.ResponseWriter, r *http.Request) {
	n := 5
	if raw := strings.TrimSpace(r.URL.Query().Get("n")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = v
	}
	list, err := gw.svc.Issues.Top(r.Context(), gw.svc.Shop, n)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewIssues(list))
}

// loadIssue resolves {id} to an issue of the gateway's shop.
func (gw *Gateway) loadIssue(w http.ResponseWriter, r *http.Request) (*models.Issue, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	iss, err := gw.svc.Issues.Get(r.Context(), id)
	if err == nil && iss.Shop != gw.svc.Shop {
		err = fmt.Errorf("%w: %d", issues.ErrNotFound, id)
	}
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return iss, true
}

func (gw *Gateway) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	iss, ok := gw.loadIssue(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewIssue(*iss))
}

// handleIssueOptions returns alternative texts the merchant can pick from
// before calling the fix endpoint with {"value": ...}.
func (gw *Gateway) handleIssueOptions(w http.ResponseWriter, r *http.Request) {
	iss, ok := gw.loadIssue(w, r)
	if !ok {
		return
	}
	if !iss.Info().AITextFixable {
		writeDomainError(w, fmt.Errorf("%w: %s has no text options", actions.ErrManualOnly, iss.IssueType))
		return
	}
	productID := iss.EntityID
	if iss.IssueType == models.IssueMissingAltText {
		productID = iss.ParentID
	}
	p, err := gw.svc.Repo.Product(r.Context(), productID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	options, err := gw.svc.Writer.Options(r.Context(), p, iss.IssueType)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"issue_id":   iss.ID,
		"issue_type": iss.IssueType,
		"product_id": productID,
		"options":    options,
	})
}

func (gw *Gateway) handleFixIssue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req fixRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	outcome, err := gw.svc.Dispatcher.FixIssue(r.Context(), gw.svc.Shop, id, actions.FixOptions{
		Value:         req.Value,
		ImageStrategy: req.ImageStrategy,
		Style:         req.Style,
		Query:         req.Query,
		PhotoURL:      req.PhotoURL,
		Source:        models.SourceManual,
	})
	writeOutcome(w, outcome, err)
}

func (gw *Gateway) handleDispatchAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	action, err := models.ParseAction(req.Kind, req.Params)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	outcome, err := gw.svc.Dispatcher.Dispatch(r.Context(), actions.Request{
		Shop:    gw.svc.Shop,
		IssueID: req.IssueID,
		Action:  action,
		Source:  models.SourceManual,
	})
	writeOutcome(w, outcome, err)
}

// handleStockImages searches stock photos for ?product_id= (query derived
// from the product) or an explicit ?q=.
func (gw *Gateway) handleStockImages(w http.ResponseWriter, r *http.Request) {
	if gw.svc.Stock == nil || !gw.svc.Stock.Configured() {
		writeDomainError(w, imagesource.ErrNoProviders)
		return
	}
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if pid := strings.TrimSpace(q.Get("product_id")); pid != "" && query == "" {
		p, err := gw.svc.Repo.Product(r.Context(), pid)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		query = imagesource.SearchQuery(p)
	}
	if query == "" {
		writeError(w, http.StatusBadRequest, "q or product_id is required")
		return
	}
	photos, err := gw.svc.Stock.Search(r.Context(), query, parseLimit(r, 6, 30))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if photos == nil {
		photos = []imagesource.Photo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": query, "photos": photos})
}
