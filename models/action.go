package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ActionKind is the wire tag of an Action variant.
type ActionKind string

const (
	ActionFixImageAI         ActionKind = "FIX_IMAGE_AI"
	ActionFixImageStock      ActionKind = "FIX_IMAGE_STOCK"
	ActionFixSEO             ActionKind = "FIX_SEO"
	ActionImproveDescription ActionKind = "IMPROVE_DESCRIPTION"
	ActionFixAltText         ActionKind = "FIX_ALT_TEXT"
	ActionFixSKU             ActionKind = "FIX_SKU"
	ActionBulkFixImagesAI    ActionKind = "BULK_FIX_IMAGES_AI"
)

// ErrUnknownActionKind is returned by ParseAction for tags outside the closed set.
var ErrUnknownActionKind = errors.New("unknown action kind")

// Action is a remedy for a finding. The set of implementations is closed:
// FixImageAI, FixImageStock, FixSEO, ImproveDescription, FixAltText, FixSKU
// and BulkFixImagesAI.
type Action interface {
	Kind() ActionKind
	// Targets lists the product ids the action mutates.
	Targets() []string
	isAction()
}

// ImageStyle selects the prompt preset for generated product images.
type ImageStyle string

const (
	StyleStudio      ImageStyle = "STUDIO"
	StyleLifestyle   ImageStyle = "LIFESTYLE"
	StyleFlatlay     ImageStyle = "FLATLAY"
	StylePromotional ImageStyle = "PROMOTIONAL"
)

// Valid reports whether s is a known preset. Empty is valid and means STUDIO.
func (s ImageStyle) Valid() bool {
	switch s {
	case "", StyleStudio, StyleLifestyle, StyleFlatlay, StylePromotional:
		return true
	}
	return false
}

// FixImageAI generates a product image and appends it to the product.
type FixImageAI struct {
	ProductID string     `json:"product_id"`
	Style     ImageStyle `json:"style,omitempty"`
	// Prompt overrides the prompt built from product data.
	Prompt string `json:"prompt,omitempty"`
}

// FixImageStock appends a stock photo to the product. When PhotoURL is empty
// the best search hit for Query (or a query built from the product) is used.
type FixImageStock struct {
	ProductID string `json:"product_id"`
	Query     string `json:"query,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
}

// FixSEO sets the product's SEO title and/or description. Empty fields are
// generated; Fields limits which ones are written.
type FixSEO struct {
	ProductID   string     `json:"product_id"`
	Fields      []SEOField `json:"fields,omitempty"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
}

// SEOField names one SEO attribute.
type SEOField string

const (
	SEOFieldTitle       SEOField = "title"
	SEOFieldDescription SEOField = "description"
)

// Wants reports whether the action writes field f. No Fields means both.
func (a FixSEO) Wants(f SEOField) bool {
	if len(a.Fields) == 0 {
		return true
	}
	for _, x := range a.Fields {
		if x == f {
			return true
		}
	}
	return false
}

// ImproveDescription rewrites the product body. Empty DescriptionHTML means generate.
type ImproveDescription struct {
	ProductID       string `json:"product_id"`
	DescriptionHTML string `json:"description_html,omitempty"`
}

// FixAltText sets the alt text of one product image.
type FixAltText struct {
	ProductID string `json:"product_id"`
	ImageID   string `json:"image_id"`
	AltText   string `json:"alt_text,omitempty"`
}

// FixSKU sets the SKU of one variant. Empty SKU means generate.
type FixSKU struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	SKU       string `json:"sku,omitempty"`
}

// BulkFixImagesAI runs FixImageAI for every listed product.
type BulkFixImagesAI struct {
	ProductIDs []string   `json:"product_ids"`
	Style      ImageStyle `json:"style,omitempty"`
}

func (FixImageAI) Kind() ActionKind         { return ActionFixImageAI }
func (FixImageStock) Kind() ActionKind      { return ActionFixImageStock }
func (FixSEO) Kind() ActionKind             { return ActionFixSEO }
func (ImproveDescription) Kind() ActionKind { return ActionImproveDescription }
func (FixAltText) Kind() ActionKind         { return ActionFixAltText }
func (FixSKU) Kind() ActionKind             { return ActionFixSKU }
func (BulkFixImagesAI) Kind() ActionKind    { return ActionBulkFixImagesAI }

func (a FixImageAI) Targets() []string         { return []string{a.ProductID} }
func (a FixImageStock) Targets() []string      { return []string{a.ProductID} }
func (a FixSEO) Targets() []string             { return []string{a.ProductID} }
func (a ImproveDescription) Targets() []string { return []string{a.ProductID} }
func (a FixAltText) Targets() []string         { return []string{a.ProductID} }
func (a FixSKU) Targets() []string             { return []string{a.ProductID} }
func (a BulkFixImagesAI) Targets() []string    { return append([]string(nil), a.ProductIDs...) }

func (FixImageAI) isAction()         {}
func (FixImageStock) isAction()      {}
func (FixSEO) isAction()             {}
func (ImproveDescription) isAction() {}
func (FixAltText) isAction()         {}
func (FixSKU) isAction()             {}
func (BulkFixImagesAI) isAction()    {}

// ActionEnvelope is the JSON form of an Action: {"kind": ..., "params": {...}}.
type ActionEnvelope struct {
	Kind   ActionKind      `json:"kind"`
	Params json.RawMessage `json:"params,omitempty"`
}

// MarshalAction encodes a into its envelope form. A nil action encodes as null.
func MarshalAction(a Action) ([]byte, error) {
	if a == nil {
		return []byte("null"), nil
	}
	params, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ActionEnvelope{Kind: a.Kind(), Params: params})
}

// ParseAction decodes params for kind into the matching variant.
func ParseAction(kind ActionKind, params json.RawMessage) (Action, error) {
	var (
		a   Action
		err error
	)
	switch kind {
	case ActionFixImageAI:
		var v FixImageAI
		err = unmarshalParams(params, &v)
		a = v
	case ActionFixImageStock:
		var v FixImageStock
		err = unmarshalParams(params, &v)
		a = v
	case ActionFixSEO:
		var v FixSEO
		err = unmarshalParams(params, &v)
		a = v
	case ActionImproveDescription:
		var v ImproveDescription
		err = unmarshalParams(params, &v)
		a = v
	case ActionFixAltText:
		var v FixAltText
		err = unmarshalParams(params, &v)
		a = v
	case ActionFixSKU:
		var v FixSKU
		err = unmarshalParams(params, &v)
		a = v
	case ActionBulkFixImagesAI:
		var v BulkFixImagesAI
		err = unmarshalParams(params, &v)
		a = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s params: %w", kind, err)
	}
	return a, nil
}

// UnmarshalAction decodes an envelope produced by MarshalAction.
func UnmarshalAction(data []byte) (Action, error) {
	var env ActionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return ParseAction(env.Kind, env.Params)
}

func unmarshalParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return nil
	}
	return json.Unmarshal(params, v)
}
