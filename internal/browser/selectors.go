package browser

import (
	"context"
	"errors"
	"fmt"
)

// ErrSelectorNotFound means none of a field's ranked strategies matched the
// page, meaning the site markup has drifted. It is a degraded-mode signal:
// logged loudly and surfaced to the caller, never blindly retried.
var ErrSelectorNotFound = errors.New("selector not found")

// Field names a UI element the executor needs to find. Fields are located
// through ranked fallback strategies so a markup change degrades to the next
// strategy instead of breaking the call site.
type Field string

const (
	FieldPhotoInput  Field = "photo_input"
	FieldTitle       Field = "title"
	FieldPrice       Field = "price"
	FieldDescription Field = "description"
	FieldBrand       Field = "brand"
	FieldSize        Field = "size"
	FieldCondition   Field = "condition"
	FieldColor       Field = "color"
	FieldCategory    Field = "category"
	FieldSubmit      Field = "submit"
	FieldBumpButton  Field = "bump_button"
	FieldFollow      Field = "follow_button"
	FieldUnfollow    Field = "unfollow_button"
	FieldFollowsYou  Field = "follows_you_badge"
	FieldMessageBox  Field = "message_box"
	FieldMessageSend Field = "message_send"
	FieldProfileName Field = "profile_name"
	FieldLoginForm   Field = "login_form"
	FieldClosetItem  Field = "closet_item"
)

// SelectorStrategy is one way of finding a field, tried in registration
// order.
type SelectorStrategy struct {
	// Name identifies the strategy in logs (e.g. "testid", "name-attr").
	Name string
	// Selector is the CSS selector the strategy probes.
	Selector string
}

// Registry holds the ranked strategies per field. New fallbacks are added
// with Register; call sites only ever ask Locate for a field.
type Registry struct {
	strategies map[Field][]SelectorStrategy
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: map[Field][]SelectorStrategy{}}
}

// Register appends a strategy for a field, ranked after any existing ones.
func (r *Registry) Register(f Field, s SelectorStrategy) {
	r.strategies[f] = append(r.strategies[f], s)
}

// Locate probes the field's strategies in rank order against the live page
// and returns the first selector that matches. A field with no match
// returns ErrSelectorNotFound wrapped with the field name.
func (r *Registry) Locate(ctx context.Context, d Driver, f Field) (string, error) {
	for _, s := range r.strategies[f] {
		ok, err := d.Exists(ctx, s.Selector)
		if err != nil {
			return "", err
		}
		if ok {
			return s.Selector, nil
		}
	}
	return "", fmt.Errorf("%w: field %q", ErrSelectorNotFound, f)
}

// DefaultRegistry returns the strategies for the current marketplace markup:
// stable test ids first, then semantic attributes, then looser fallbacks.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	add := func(f Field, pairs ...[2]string) {
		for _, p := range pairs {
			r.Register(f, SelectorStrategy{Name: p[0], Selector: p[1]})
		}
	}

	add(FieldPhotoInput,
		[2]string{"testid", `[data-testid="photo-upload-input"]`},
		[2]string{"file-input", `input[type="file"][accept*="image"]`},
		[2]string{"any-file", `input[type="file"]`},
	)
	add(FieldTitle,
		[2]string{"testid", `[data-testid="item-title-input"]`},
		[2]string{"name-attr", `input[name="title"]`},
		[2]string{"id", `#item_title`},
	)
	add(FieldPrice,
		[2]string{"testid", `[data-testid="item-price-input"]`},
		[2]string{"name-attr", `input[name="price"]`},
		[2]string{"id", `#item_price`},
	)
	add(FieldDescription,
		[2]string{"testid", `[data-testid="item-description-input"]`},
		[2]string{"name-attr", `textarea[name="description"]`},
		[2]string{"id", `#item_description`},
	)
	add(FieldBrand,
		[2]string{"testid", `[data-testid="brand-select-input"]`},
		[2]string{"name-attr", `input[name="brand"]`},
	)
	add(FieldSize,
		[2]string{"testid", `[data-testid="size-select-input"]`},
		[2]string{"name-attr", `input[name="size"]`},
	)
	add(FieldCondition,
		[2]string{"testid", `[data-testid="condition-select-input"]`},
		[2]string{"name-attr", `select[name="condition"]`},
	)
	add(FieldColor,
		[2]string{"testid", `[data-testid="color-select-input"]`},
		[2]string{"name-attr", `input[name="color"]`},
	)
	add(FieldCategory,
		[2]string{"testid", `[data-testid="category-select-input"]`},
		[2]string{"name-attr", `input[name="category"]`},
	)
	add(FieldSubmit,
		[2]string{"testid", `[data-testid="upload-submit-button"]`},
		[2]string{"type-submit", `button[type="submit"]`},
	)
	add(FieldBumpButton,
		[2]string{"testid", `[data-testid="bump-item-button"]`},
		[2]string{"class", `button.bump-item`},
	)
	add(FieldFollow,
		[2]string{"testid", `[data-testid="follow-button"]`},
		[2]string{"class", `button.follow`},
	)
	add(FieldUnfollow,
		[2]string{"testid", `[data-testid="unfollow-button"]`},
		[2]string{"class", `button.following`},
	)
	add(FieldFollowsYou,
		[2]string{"testid", `[data-testid="follows-you-badge"]`},
		[2]string{"class", `.follows-you`},
	)
	add(FieldMessageBox,
		[2]string{"testid", `[data-testid="conversation-reply-input"]`},
		[2]string{"name-attr", `textarea[name="reply"]`},
	)
	add(FieldMessageSend,
		[2]string{"testid", `[data-testid="conversation-send-button"]`},
		[2]string{"type-submit", `form.conversation button[type="submit"]`},
	)
	add(FieldProfileName,
		[2]string{"testid", `[data-testid="profile-username"]`},
		[2]string{"class", `.profile-header .username`},
	)
	add(FieldLoginForm,
		[2]string{"testid", `[data-testid="login-form"]`},
		[2]string{"form", `form[action*="login"]`},
	)
	add(FieldClosetItem,
		[2]string{"testid", `[data-testid="closet-item-link"]`},
		[2]string{"grid-anchor", `.closet-grid a.item-link`},
	)
	return r
}
