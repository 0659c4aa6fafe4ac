package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownPage is returned when a menu entry does not name a page.
var ErrUnknownPage = errors.New("unknown page")

// Page is the navigation state of a session.
type Page int

const (
	PageHome Page = iota
	PageDoctorChat
	PageNutrition
	PageAbout
)

// Pages lists the menu entries in display order.
var Pages = []Page{PageHome, PageDoctorChat, PageNutrition, PageAbout}

var pageLabels = map[Page]string{
	PageHome:       "Home",
	PageDoctorChat: "Doctor Chat",
	PageNutrition:  "Nutrition",
	PageAbout:      "About",
}

var pageSlugs = map[Page]string{
	PageHome:       "home",
	PageDoctorChat: "chat",
	PageNutrition:  "nutrition",
	PageAbout:      "about",
}

// String returns the menu label.
func (p Page) String() string {
	if label, ok := pageLabels[p]; ok {
		return label
	}
	return fmt.Sprintf("Page(%d)", int(p))
}

// Slug returns the short identifier used in forms and URLs.
func (p Page) Slug() string {
	return pageSlugs[p]
}

// Valid reports whether p is one of the four pages.
func (p Page) Valid() bool {
	_, ok := pageLabels[p]
	return ok
}

// ParsePage accepts a menu label or slug, case-insensitively.
func ParsePage(s string) (Page, error) {
	s = strings.TrimSpace(s)
	for _, p := range Pages {
		if strings.EqualFold(s, pageLabels[p]) || strings.EqualFold(s, pageSlugs[p]) {
			return p, nil
		}
	}
	return PageHome, fmt.Errorf("%w: %q", ErrUnknownPage, s)
}

// Page returns the current page.
func (s *Session) Page() Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.page
}

// Navigate makes p the current page. Any page may follow any other and
// re-selecting the current page is allowed. Leaving a page cancels the
// contexts handed out by PageContext for it.
func (s *Session) Navigate(p Page) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownPage, int(p))
	}

	s.mu.Lock()
	from := s.page
	s.page = p
	if from != p && !s.ended {
		s.pageCancel()
		s.pageCtx, s.pageCancel = context.WithCancel(context.Background())
	}
	s.mu.Unlock()

	if from != p {
		s.logger.Debug("navigated", "session_id", s.ID, "from", from.String(), "to", p.String())
	}
	s.persist("set page", func(j Journal) error {
		return j.SetPage(s.ID, p)
	})
	return nil
}

// PageContext derives a context from parent that is cancelled when the
// session leaves page or ends. ok is false when page is not current.
func (s *Session) PageContext(parent context.Context, page Page) (ctx context.Context, cancel context.CancelFunc, ok bool) {
	s.mu.RLock()
	current, pageCtx, ended := s.page, s.pageCtx, s.ended
	s.mu.RUnlock()

	if ended || current != page {
		return nil, nil, false
	}

	ctx, cancel = context.WithCancel(parent)
	stop := context.AfterFunc(pageCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}, true
}
