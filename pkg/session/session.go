// Package session holds the per-surface workflow session model and the
// store that owns it.
package session

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/odvcencio/affilink/pkg/browser"
)

// State is a workflow session's position in the state machine.
type State string

const (
	StateResolving      State = "resolving"
	StateSurfaceOpened  State = "surface_opened"
	StateScraped        State = "scraped"
	StateLinkPageLoaded State = "link_page_loaded"
	StateLinkGenerated  State = "link_generated"
	StateReported       State = "reported"
	StateAbandoned      State = "abandoned"
)

// Terminal reports whether no further transitions leave s.
func (s State) Terminal() bool {
	return s == StateReported || s == StateAbandoned
}

// ProductData is the structured scrape result produced by the agent.
type ProductData struct {
	Name     string `json:"name,omitempty"`
	Price    string `json:"price,omitempty"`
	Sold     string `json:"sold,omitempty"`
	Image    string `json:"image,omitempty"`
	Cashback string `json:"cashback,omitempty"`
	// Raw preserves the agent payload as sent, including unknown fields.
	Raw json.RawMessage `json:"-"`
}

// MarshalJSON emits the agent payload verbatim when it is available.
func (p ProductData) MarshalJSON() ([]byte, error) {
	if len(p.Raw) > 0 {
		return p.Raw, nil
	}
	type plain ProductData
	return json.Marshal(plain(p))
}

// ParseProductData decodes an agent payload, keeping the raw bytes.
func ParseProductData(raw json.RawMessage) (*ProductData, error) {
	var p ProductData
	if len(raw) == 0 || string(raw) == "null" {
		return &p, nil
	}
	type plain ProductData
	if err := json.Unmarshal(raw, (*plain)(&p)); err != nil {
		return nil, err
	}
	p.Raw = append(json.RawMessage(nil), raw...)
	return &p, nil
}

// Session is the unit of work for one affiliate-link request.
type Session struct {
	ID           string         `json:"id"`
	RequestID    string         `json:"requestId"`
	UserID       string         `json:"userId"`
	OriginalURL  string         `json:"originalUrl"`
	ProductURL   string         `json:"productUrl"`
	ItemID       string         `json:"itemId,omitempty"`
	ProductData  *ProductData   `json:"productData,omitempty"`
	SubID        string         `json:"subId,omitempty"`
	IsDirectLink bool           `json:"isDirectLink"`
	Surface      browser.Handle `json:"surface"`
	State        State          `json:"state"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// New creates a session for a freshly opened surface. Direct-link sessions
// get their subId immediately.
func New(requestID, userID, originalURL, productURL, itemID string, surface browser.Handle, now time.Time) *Session {
	s := &Session{
		ID:           uuid.NewString(),
		RequestID:    requestID,
		UserID:       userID,
		OriginalURL:  originalURL,
		ProductURL:   productURL,
		ItemID:       itemID,
		IsDirectLink: itemID == "",
		Surface:      surface,
		State:        StateSurfaceOpened,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if s.IsDirectLink {
		s.EnsureSubID()
	}
	return s
}

// EnsureSubID assigns a subId if none is set and returns the current value.
// An assigned subId is never replaced.
func (s *Session) EnsureSubID() string {
	if s.SubID == "" {
		s.SubID = NewSubID()
	}
	return s.SubID
}

// Expired reports whether the session has been alive longer than ttl.
func (s *Session) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(s.CreatedAt) > ttl
}

// Clone returns a copy safe to hand outside the owning goroutine.
func (s *Session) Clone() *Session {
	c := *s
	if s.ProductData != nil {
		pd := *s.ProductData
		pd.Raw = append(json.RawMessage(nil), s.ProductData.Raw...)
		c.ProductData = &pd
	}
	return &c
}

const (
	subIDLength   = 16
	subIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// NewSubID returns a random 16 character base36 token.
func NewSubID() string {
	max := big.NewInt(int64(len(subIDAlphabet)))
	out := make([]byte, subIDLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms
			panic(err)
		}
		out[i] = subIDAlphabet[n.Int64()]
	}
	return string(out)
}
