package actions

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"shopchat/pkg/catalog"
)

// Action names as referenced by the dialogue domain.
const (
	ActionInsertFeedback     = "action_insertNewFeedback"
	ActionValidateSearchForm = "validate_searchedProducts_form"
	ActionSelectProductInfo  = "action_selectProductInformation"
	ActionShowSubcategories  = "action_show_subcategories"
	ActionFilterProducts     = "action_filter_products_by_color_and_subcategory"
)

// Slot names.
const (
	SlotFeedback         = "otherFeedback"
	SlotSearchedProducts = "searchedProducts"
	SlotColor            = "color"
	SlotSubcategory      = "subcategory"
)

const (
	minSearchLength = 3

	msgFeedbackThanks     = "Thanks for the feedback!"
	msgSearchNotLetters   = "Please type only letters for your product search."
	msgSearchTooShort     = "Your product search must contain at least 3 letters."
	msgSubcategoriesTitle = "Here are the available subcategories:\n\n"
	msgFilterTitle        = "Here are the products matching your criteria:\n"
	msgFilterNotFound     = "No products found matching your criteria."
)

// NewShopRegistry registers every shop action against products.
func NewShopRegistry(products *catalog.Catalog) *Registry {
	return NewRegistry(
		InsertFeedback{},
		ValidateSearchForm{},
		SelectProductInformation{Catalog: products},
		ShowSubcategories{Catalog: products},
		FilterByColorAndSubcategory{Catalog: products},
	)
}

func actionLogger(name string) *slog.Logger {
	return slog.Default().With("component", "actions", "action", name)
}

// InsertFeedback acknowledges free-text feedback.
type InsertFeedback struct{}

func (InsertFeedback) Name() string { return ActionInsertFeedback }

func (InsertFeedback) Run(_ context.Context, dispatcher *Dispatcher, tracker Tracker, _ Domain) ([]Event, error) {
	actionLogger(ActionInsertFeedback).Debug("Feedback received", "sender_id", tracker.SenderID, "length", len(tracker.Slot(SlotFeedback)))
	dispatcher.Utter(msgFeedbackThanks)
	return nil, nil
}

// slotValidator returns the value to store for a candidate slot value, uttering any corrections.
type slotValidator func(value any, dispatcher *Dispatcher) any

// ValidateSearchForm checks the product search term collected by the search form.
type ValidateSearchForm struct{}

func (ValidateSearchForm) Name() string { return ActionValidateSearchForm }

func (ValidateSearchForm) Run(_ context.Context, dispatcher *Dispatcher, tracker Tracker, _ Domain) ([]Event, error) {
	validators := map[string]slotValidator{
		SlotSearchedProducts: validateSearchTerm,
	}

	candidates := tracker.SlotsToValidate()
	names := make([]string, 0, len(candidates))
	for name := range candidates {
		names = append(names, name)
	}
	slices.Sort(names)

	events := make([]Event, 0, len(names))
	for _, name := range names {
		value := candidates[name]
		if validate, ok := validators[name]; ok {
			value = validate(value, dispatcher)
		}
		events = append(events, SlotSet(name, value))
	}
	return events, nil
}

// validateSearchTerm accepts letters-only terms of at least three characters.
func validateSearchTerm(value any, dispatcher *Dispatcher) any {
	term, _ := value.(string)
	if !isLetters(term) {
		dispatcher.Utter(msgSearchNotLetters)
		return nil
	}
	if utf8.RuneCountInString(term) < minSearchLength {
		dispatcher.Utter(msgSearchTooShort)
		return nil
	}
	return term
}

// isLetters reports whether s is non-empty and made only of Unicode letters.
func isLetters(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// SelectProductInformation lists products whose name contains the searched term.
type SelectProductInformation struct {
	Catalog *catalog.Catalog
}

func (SelectProductInformation) Name() string { return ActionSelectProductInfo }

func (a SelectProductInformation) Run(_ context.Context, dispatcher *Dispatcher, tracker Tracker, _ Domain) ([]Event, error) {
	term := strings.ToLower(strings.TrimSpace(tracker.Slot(SlotSearchedProducts)))
	matches := a.Catalog.Search(term)
	actionLogger(ActionSelectProductInfo).Debug("Product search", "term", term, "matches", len(matches))

	if len(matches) == 0 {
		dispatcher.Utter(fmt.Sprintf("I am sorry, no product in our store has '%s' in its name.", term))
		return []Event{ClearSlot(SlotSearchedProducts)}, nil
	}

	var b strings.Builder
	for _, product := range matches {
		fmt.Fprintf(&b, "- Product: %s; description: %s; remaining stock: Unknown; unit price: %s %s.\n",
			product.Name, product.Subcategory, product.CurrentPrice, product.Currency)
	}
	dispatcher.Utter(b.String())
	return []Event{ClearSlot(SlotSearchedProducts)}, nil
}

// ShowSubcategories lists the distinct subcategories of the catalog.
type ShowSubcategories struct {
	Catalog *catalog.Catalog
}

func (ShowSubcategories) Name() string { return ActionShowSubcategories }

func (a ShowSubcategories) Run(_ context.Context, dispatcher *Dispatcher, _ Tracker, _ Domain) ([]Event, error) {
	var b strings.Builder
	b.WriteString(msgSubcategoriesTitle)
	for _, subcategory := range a.Catalog.Subcategories() {
		fmt.Fprintf(&b, "- %s\n", subcategory)
	}
	dispatcher.Utter(b.String())
	return nil, nil
}

// FilterByColorAndSubcategory lists products of a subcategory offered in a color.
type FilterByColorAndSubcategory struct {
	Catalog *catalog.Catalog
}

func (FilterByColorAndSubcategory) Name() string { return ActionFilterProducts }

func (a FilterByColorAndSubcategory) Run(_ context.Context, dispatcher *Dispatcher, tracker Tracker, _ Domain) ([]Event, error) {
	color := tracker.Slot(SlotColor)
	subcategory := tracker.Slot(SlotSubcategory)
	matches := a.Catalog.FilterByColorAndSubcategory(color, subcategory)
	actionLogger(ActionFilterProducts).Debug("Product filter", "color", color, "subcategory", subcategory, "matches", len(matches))

	if len(matches) == 0 {
		dispatcher.Utter(msgFilterNotFound)
	} else {
		var b strings.Builder
		b.WriteString(msgFilterTitle)
		for _, product := range matches {
			fmt.Fprintf(&b, "- %s: %s %s\n", product.Name, product.CurrentPrice, product.Currency)
		}
		dispatcher.Utter(b.String())
	}

	return []Event{ClearSlot(SlotColor), ClearSlot(SlotSubcategory)}, nil
}
