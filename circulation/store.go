package circulation

import (
	"context"
	"errors"
	"slices"
	"sync"
)

var (
	// ErrCommitFailed is joined to errors from a Store that could not persist a Commit.
	ErrCommitFailed = errors.New("commit failed")

	// ErrLoadFailed is joined to errors from a Store that could not load its Snapshot.
	ErrLoadFailed = errors.New("load failed")
)

// Commit is the complete set of changes of one engine operation.
// A Store must persist it atomically: all of it or nothing.
//
// Several engines may share a Store. A Store detects that the committing engine has not seen
// the latest persisted state and rejects the whole commit with ErrContention when
//   - a book's stored Version is not its committed Version-1,
//   - it holds an entry of Entry.MemberID with a sequence above MemberHead,
//   - Entry.Sequence is already taken by another entry,
//   - a committed reservation is stored in a different terminal status, or a new reservation's
//     rank is already taken on its book.
//
// The checks and the writes of one commit must not interleave with another commit.
// Member and policy records are written last-writer-wins.
type Commit struct {
	Operation    string
	Entry        *LedgerEntry
	MemberHead   uint64 // sequence of the latest entry of Entry.MemberID the engine knows
	Books        []Book
	Reservations []Reservation
	Policies     []MemberTypePolicy
	Members      []Member
}

// IsEmpty reports whether the commit carries no changes.
func (c Commit) IsEmpty() bool {
	return c.Entry == nil && len(c.Books) == 0 && len(c.Reservations) == 0 &&
		len(c.Policies) == 0 && len(c.Members) == 0
}

// Snapshot is the persisted state the engine is rebuilt from.
type Snapshot struct {
	Policies     []MemberTypePolicy
	Members      []Member
	Books        []Book
	Reservations []Reservation
	Entries      []LedgerEntry
}

// Store is the persistence port of the engine.
type Store interface {
	Commit(ctx context.Context, commit Commit) error
	Load(ctx context.Context) (Snapshot, error)
}

// MemoryStore is a Store that keeps everything in process memory.
// It is the default Store of an Engine and is handy in tests to simulate a restart.
type MemoryStore struct {
	mu           sync.Mutex
	policies     map[PolicyIDString]MemberTypePolicy
	members      map[MemberIDString]Member
	books        map[BookIDString]Book
	reservations map[ReservationIDString]Reservation
	entries      []LedgerEntry
	entryIDs     map[EntryIDString]struct{}
	sequences    map[uint64]EntryIDString
	memberHeads  map[MemberIDString]uint64
	ranks        map[bookRank]ReservationIDString
}

type bookRank struct {
	bookID BookIDString
	rank   uint64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		policies:     make(map[PolicyIDString]MemberTypePolicy),
		members:      make(map[MemberIDString]Member),
		books:        make(map[BookIDString]Book),
		reservations: make(map[ReservationIDString]Reservation),
		entryIDs:     make(map[EntryIDString]struct{}),
		sequences:    make(map[uint64]EntryIDString),
		memberHeads:  make(map[MemberIDString]uint64),
		ranks:        make(map[bookRank]ReservationIDString),
	}
}

// Commit persists the commit atomically.
func (s *MemoryStore) Commit(ctx context.Context, commit Commit) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrCommitFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, book := range commit.Books {
		stored, exists := s.books[book.ID]

		switch {
		case !exists && book.Version != 1:
			return ErrContention
		case exists && stored.Version+1 != book.Version:
			return ErrContention
		}
	}

	for _, reservation := range commit.Reservations {
		if s.reservationIsStale(reservation) {
			return ErrContention
		}
	}

	if entry := commit.Entry; entry != nil {
		if s.memberHeads[entry.MemberID] > commit.MemberHead {
			return ErrContention
		}

		if id, taken := s.sequences[entry.Sequence]; taken && id != entry.ID {
			return ErrContention
		}

		if _, exists := s.entryIDs[entry.ID]; exists {
			return errors.Join(ErrCommitFailed, constraintViolation("ledger entry id already exists"))
		}
	}

	for _, book := range commit.Books {
		s.books[book.ID] = book
	}

	for _, reservation := range commit.Reservations {
		s.reservations[reservation.ID] = reservation
		s.ranks[bookRank{reservation.BookID, reservation.PriorityRank}] = reservation.ID
	}

	for _, policy := range commit.Policies {
		s.policies[policy.ID] = policy
	}

	for _, member := range commit.Members {
		s.members[member.ID] = member
	}

	if entry := commit.Entry; entry != nil {
		s.entries = append(s.entries, *entry)
		s.entryIDs[entry.ID] = struct{}{}
		s.sequences[entry.Sequence] = entry.ID
		s.memberHeads[entry.MemberID] = max(s.memberHeads[entry.MemberID], entry.Sequence)
	}

	return nil
}

func (s *MemoryStore) reservationIsStale(reservation Reservation) bool {
	stored, exists := s.reservations[reservation.ID]
	if !exists {
		id, taken := s.ranks[bookRank{reservation.BookID, reservation.PriorityRank}]
		return taken && id != reservation.ID
	}

	return stored.Status.IsTerminal() && stored.Status != reservation.Status
}

// Load returns a copy of everything committed so far. Entries are in sequence order.
func (s *MemoryStore) Load(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, errors.Join(ErrLoadFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := Snapshot{
		Policies:     make([]MemberTypePolicy, 0, len(s.policies)),
		Members:      make([]Member, 0, len(s.members)),
		Books:        make([]Book, 0, len(s.books)),
		Reservations: make([]Reservation, 0, len(s.reservations)),
		Entries:      slices.Clone(s.entries),
	}

	for _, policy := range s.policies {
		snapshot.Policies = append(snapshot.Policies, policy)
	}

	for _, member := range s.members {
		snapshot.Members = append(snapshot.Members, member)
	}

	for _, book := range s.books {
		snapshot.Books = append(snapshot.Books, book)
	}

	for _, reservation := range s.reservations {
		snapshot.Reservations = append(snapshot.Reservations, reservation)
	}

	sortBySequence(snapshot.Entries)

	return snapshot, nil
}
