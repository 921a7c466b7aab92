package session

import (
	"context"

	"github.com/kritsw/chat-session/pkg/model"
)

const defaultMemberLimit = 25

// EnsureMembers loads the first member page once. After a successful
// initial load it becomes a no-op; explicit LoadMembers calls bypass
// this guard.
func (s *Session) EnsureMembers(ctx context.Context) error {
	s.mu.Lock()
	loaded := s.membersLoaded
	s.mu.Unlock()
	if loaded {
		return nil
	}
	return s.LoadMembers(ctx, 1, false)
}

// LoadMembers fetches one member page. append=false replaces the
// list, append=true concatenates. A load already in flight makes this
// a no-op. HasMore derives from whether the page came back full.
func (s *Session) LoadMembers(ctx context.Context, page int, appendPage bool) error {
	s.mu.Lock()
	if s.loadingMembers {
		s.mu.Unlock()
		return nil
	}
	s.loadingMembers = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loadingMembers = false
		s.mu.Unlock()
	}()

	p, err := s.rest.Members(ctx, s.roomID, page, s.memberLimit)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if appendPage {
		s.members.Items = append(s.members.Items, p.Items...)
	} else {
		s.members.Items = p.Items
	}
	s.members.Total = p.Total
	s.members.Page = page
	s.members.Limit = s.memberLimit
	s.members.HasMore = len(p.Items) == s.memberLimit
	s.membersLoaded = true
	s.mu.Unlock()
	return nil
}

// Members returns a copy of the currently loaded member window.
func (s *Session) Members() model.MembersPage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.members
	out.Items = append([]model.RoomMember(nil), s.members.Items...)
	return out
}
