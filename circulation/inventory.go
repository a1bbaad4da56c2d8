package circulation

import (
	"slices"
	"strings"
	"sync"
)

// Inventory tracks total and available copies per book. It is the only component that
// changes copy counts, and it does so only in response to ledger events.
// It is safe for concurrent use.
//
// The mutators apply a change immediately and serve callers that keep the inventory without
// an Engine. The Engine shares their rules but stages changes, persists them through its
// Store and only then applies them.
type Inventory struct {
	mu    sync.RWMutex
	books map[BookIDString]Book
}

// NewInventory creates an empty Inventory.
func NewInventory() *Inventory {
	return &Inventory{
		books: make(map[BookIDString]Book),
	}
}

// AddBook registers a new book with all copies available.
func (i *Inventory) AddBook(bookID BookIDString, totalCopies int) (Book, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	book, err := i.newBookLocked(bookID, totalCopies)
	if err != nil {
		return Book{}, err
	}

	i.books[bookID] = book

	return book, nil
}

// prepareBook validates a new book without storing it.
func (i *Inventory) prepareBook(bookID BookIDString, totalCopies int) (Book, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return i.newBookLocked(bookID, totalCopies)
}

func (i *Inventory) newBookLocked(bookID BookIDString, totalCopies int) (Book, error) {
	if bookID == "" {
		return Book{}, ErrInvalidArgument
	}

	if totalCopies < 1 {
		return Book{}, ErrInvalidCopies
	}

	if _, exists := i.books[bookID]; exists {
		return Book{}, ErrBookAlreadyExists
	}

	return Book{ID: bookID, TotalCopies: totalCopies, AvailableCopies: totalCopies, Version: 1}, nil
}

// AddCopies raises total and available copies of a book by n.
func (i *Inventory) AddCopies(bookID BookIDString, n int) (Book, error) {
	return i.mutate(bookID, func(b Book) (Book, error) { return b.afterAddingCopies(n) })
}

// OnBorrow takes one copy out, failing with ErrNoCopiesAvailable when none is left.
func (i *Inventory) OnBorrow(bookID BookIDString) (Book, error) {
	return i.mutate(bookID, Book.afterBorrow)
}

// OnReturn puts one copy back, failing with ErrOverReturn when all copies are already in.
func (i *Inventory) OnReturn(bookID BookIDString) (Book, error) {
	return i.mutate(bookID, Book.afterReturn)
}

// OnRenew changes no counts, a renewal only extends the due date of the open loan.
func (i *Inventory) OnRenew(bookID BookIDString) (Book, error) {
	return i.Book(bookID)
}

func (i *Inventory) mutate(bookID BookIDString, change func(Book) (Book, error)) (Book, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	book, ok := i.books[bookID]
	if !ok {
		return Book{}, ErrBookNotFound
	}

	changed, err := change(book)
	if err != nil {
		return book, err
	}

	i.books[bookID] = changed

	return changed, nil
}

// Book returns the current counts of a book.
func (i *Inventory) Book(bookID BookIDString) (Book, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	book, ok := i.books[bookID]
	if !ok {
		return Book{}, ErrBookNotFound
	}

	return book, nil
}

// Books returns all books ordered by ID.
func (i *Inventory) Books() []Book {
	i.mu.RLock()
	defer i.mu.RUnlock()

	books := make([]Book, 0, len(i.books))
	for _, book := range i.books {
		books = append(books, book)
	}

	slices.SortFunc(books, func(a, b Book) int { return strings.Compare(a.ID, b.ID) })

	return books
}

// put stores a book state computed (and persisted) by the engine.
func (i *Inventory) put(book Book) error {
	if book.TotalCopies < 1 || book.AvailableCopies < 0 || book.AvailableCopies > book.TotalCopies {
		return constraintViolation("book copy counts out of range")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.books[book.ID] = book

	return nil
}
