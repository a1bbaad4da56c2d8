package main

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/library-circulation-go/circulation"
)

const (
	flagID          = "id"
	flagMember      = "member"
	flagBook        = "book"
	flagStaff       = "staff"
	flagDays        = "days"
	flagPolicy      = "policy"
	flagStatus      = "status"
	flagCopies      = "copies"
	flagMaxBooks    = "max-books"
	flagLoanDays    = "loan-days"
	flagFinePerDay  = "fine-per-day"
	flagTTL         = "ttl"
	flagReservation = "reservation"
)

func mustFlags(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		_ = cmd.MarkFlagRequired(name)
	}
}

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database tables",
		RunE: withApp(func(_ *cobra.Command, a *app) error {
			return a.print(map[string]string{"status": "ok"})
		}),
	}
}

func newPolicyCommand() *cobra.Command {
	policy := &cobra.Command{Use: "policy", Short: "Member type policies"}

	var id, fine string
	var maxBooks, loanDays int

	define := &cobra.Command{
		Use:   "define",
		Short: "Define a member type policy",
		RunE: withApp(func(cmd *cobra.Command, a *app) error {
			finePerDay, err := decimal.NewFromString(fine)
			if err != nil {
				return err
			}

			p := circulation.MemberTypePolicy{
				ID:              id,
				MaxBooksAllowed: maxBooks,
				LoanPeriodDays:  loanDays,
				FinePerDay:      finePerDay,
			}

			if err = a.engine.DefinePolicy(cmd.Context(), p); err != nil {
				return err
			}

			return a.print(toPolicyView(p))
		}),
	}
	define.Flags().StringVar(&id, flagID, "", "policy id")
	define.Flags().IntVar(&maxBooks, flagMaxBooks, 0, "maximum number of open loans")
	define.Flags().IntVar(&loanDays, flagLoanDays, 0, "loan period in days")
	define.Flags().StringVar(&fine, flagFinePerDay, "0", "fine per overdue day")
	mustFlags(define, flagID, flagMaxBooks, flagLoanDays)

	list := &cobra.Command{
		Use:   "list",
		Short: "List the policies",
		RunE: withApp(func(_ *cobra.Command, a *app) error {
			views := []policyView{}
			for _, p := range a.engine.Policies() {
				views = append(views, toPolicyView(p))
			}

			return a.print(views)
		}),
	}

	policy.AddCommand(define, list)

	return policy
}

func newMemberCommand() *cobra.Command {
	member := &cobra.Command{Use: "member", Short: "Members"}

	var id, policyID, status string

	register := &cobra.Command{
		Use:   "register",
		Short: "Register a member",
		RunE: withApp(func(cmd *cobra.Command, a *app) error {
			m, err := a.engine.RegisterMember(cmd.Context(), circulation.Member{
				ID:       id,
				PolicyID: policyID,
				Status:   circulation.MemberStatus(status),
			})
			if err != nil {
				return err
			}

			return a.print(toMemberView(m))
		}),
	}
	register.Flags().StringVar(&id, flagID, "", "member id")
	register.Flags().StringVar(&policyID, flagPolicy, "", "policy id")
	register.Flags().StringVar(&status, flagStatus, "", "initial status, Active if empty")
	mustFlags(register, flagID, flagPolicy)

	var statusID, newStatus string

	changeStatus := &cobra.Command{
		Use:   "status",
		Short: "Change the status of a member",
		RunE: withApp(func(cmd *cobra.Command, a *app) error {
			m, err := a.engine.ChangeMemberStatus(cmd.Context(), statusID, circulation.MemberStatus(newStatus))
			if err != nil {
				return err
			}

			return a.print(toMemberView(m))
		}),
	}
	changeStatus.Flags().StringVar(&statusID, flagID, "", "member id")
	changeStatus.Flags().StringVar(&newStatus, flagStatus, "", "Active, Suspended, Expired or Cancelled")
	mustFlags(changeStatus, flagID, flagStatus)

	list := &cobra.Command{
		Use:   "list",
		Short: "List the members",
		RunE: withApp(func(_ *cobra.Command, a *app) error {
			views := []memberView{}
			for _, m := range a.engine.Members() {
				views = append(views, toMemberView(m))
			}

			return a.print(views)
		}),
	}

	member.AddCommand(register, changeStatus, list)

	return member
}

func newBookCommand() *cobra.Command {
	book := &cobra.Command{Use: "book", Short: "Books and copies"}

	var addID string
	var addCopies int

	add := &cobra.Command{
		Use:   "add",
		Short: "Add a book with its copies",
		RunE: withApp(func(cmd *cobra.Command, a *app) error {
			b, err := a.engine.AddBook(cmd.Context(), addID, addCopies)
			if err != nil {
				return err
			}

			return a.print(toBookView(b))
		}),
	}
	add.Flags().StringVar(&addID, flagID, "", "book id")
	add.Flags().IntVar(&addCopies, flagCopies, 1, "number of copies")
	mustFlags(add, flagID)

	var acquireID string
	var acquireCopies int

	acquire := &cobra.Command{
		Use:   "acquire",
		Short: "Add copies to an existing book",
		RunE: withApp(func(cmd *cobra.Command, a *app) error {
			b, err := a.engine.AddCopies(cmd.Context(), acquireID, acquireCopies)
			if err != nil {
				return err
			}

			return a.print(toBookView(b))
		}),
	}
	acquire.Flags().StringVar(&acquireID, flagID, "", "book id")
	acquire.Flags().IntVar(&acquireCopies, flagCopies, 1, "number of copies to add")
	mustFlags(acquire, flagID)

	var showID string

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the catalog entry and reservations of a book",
		RunE: withApp(func(cmd *cobra.Command, a *app) error {
			item, err := a.engine.CatalogEntry(cmd.Context(), showID)
			if err != nil {
				return err
			}

			return a.print(struct {
				catalogView
				Reservations []reservationView `json:"reservations"`
			}{
				catalogView: catalogView{
					bookView: bookView{
						ID:              item.BookID,
						TotalCopies:     item.TotalCopies,
						AvailableCopies: item.AvailableCopies,
					},
					BookMetadata: item.BookMetadata,
				},
				Reservations: toReservationViews(a.engine.Reservations(showID)),
			})
		}),
	}
	show.Flags().StringVar(&showID, flagID, "", "book id")
	mustFlags(show, flagID)

	list := &cobra.Command{
		Use:   "list",
		Short: "List all books with their copy counts",
		RunE: withApp(func(_ *cobra.Command, a *app) error {
			views := []bookView{}
			for _, b := range a.engine.Books() {
				views = append(views, toBookView(b))
			}

			return a.print(views)
		}),
	}

	book.AddCommand(add, acquire, show, list)

	return book
}

func newBorrowCommand() *cobra.Command {
	var command circulation.BorrowCommand

	cmd := &cobra.Command{
		Use:   "borrow",
		Short: "Lend a copy of a book to a member",
		RunE: withApp(func(cmd *cobra.Command, a *app) error {
			entry, err := a.engine.Borrow(cmd.Context(), command)
			if err != nil {
				return err
			}

			return a.print(toEntryView(entry))
		}),
	}
	cmd.Flags().StringVar(&command.MemberID, flagMember, "", "member id")
	cmd.Flags().StringVar(&command.BookID, flagBook, "", "book id")
	cmd.Flags().StringVar(&command.StaffID, flagStaff, "", "staff id")
	cmd.Flags().IntVar(&command.LoanPeriodDays, flagDays, 0, "loan period in days, the policy default if 0")
	mustFlags(cmd, flagMember, flagBook)

	return cmd
}

func newReturnCommand() *cobra.Command {
	var command circulation.ReturnCommand

	cmd := &cobra.Command{
		Use:   "return",
		Short: "Take back a member's copy of a book",
		RunE: withApp(func(cmd *cobra.Command, a *app) error {
			result, err := a.engine.ReturnBook(cmd.Context(), command)
			if err != nil {
				return err
			}

			return a.print(toReturnView(result))
		}),
	}
	cmd.Flags().StringVar(&command.MemberID, flagMember, "", "member id")
	cmd.Flags().StringVar(&command.BookID, flagBook, "", "book id")
	cmd.Flags().StringVar(&command.StaffID, flagStaff, "", "staff id")
	mustFlags(cmd, flagMember, flagBook)

	return cmd
}

func newRenewCommand() *cobra.Command {
	var command circulation.RenewCommand

	cmd := &cobra.Command{
		Use:   "renew",
		Short: "Extend the due date of a member's loan",
		RunE: withApp(func(cmd *cobra.Command, a *app) error {
			loan, err := a.engine.Renew(cmd.Context(), command)
			if err != nil {
				return err
			}

			return a.print(toLoanView(loan))
		}),
	}
	cmd.Flags().StringVar(&command.MemberID, flagMember, "", "member id")
	cmd.Flags().StringVar(&command.BookID, flagBook, "", "book id")
	cmd.Flags().StringVar(&command.StaffID, flagStaff, "", "staff id")
	cmd.Flags().IntVar(&command.ExtraDays, flagDays, 0, "days to extend by, the policy loan period if 0")
	mustFlags(cmd, flagMember, flagBook)

	return cmd
}

func newReserveCommand() *cobra.Command {
	var command circulation.ReserveCommand

	cmd := &cobra.Command{
		Use:   "reserve",
		Short: "Put a member on the waitlist of a book",
		RunE: withApp(func(cmd *cobra.Command, a *app) error {
			reservation, err := a.engine.Reserve(cmd.Context(), command)
			if err != nil {
				return err
			}

			return a.print(toReservationView(reservation))
		}),
	}
	cmd.Flags().StringVar(&command.MemberID, flagMember, "", "member id")
	cmd.Flags().StringVar(&command.BookID, flagBook, "", "book id")
	cmd.Flags().DurationVar(&command.TTL, flagTTL, 0, "time to live, the configured default if 0")
	mustFlags(cmd, flagMember, flagBook)

	return cmd
}

func newCancelCommand() *cobra.Command {
	var reservationID string

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a reservation",
		RunE: withApp(func(cmd *cobra.Command, a *app) error {
			reservation, err := a.engine.CancelReservation(cmd.Context(), reservationID)
			if err != nil {
				return err
			}

			return a.print(toReservationView(reservation))
		}),
	}
	cmd.Flags().StringVar(&reservationID, flagReservation, "", "reservation id")
	mustFlags(cmd, flagReservation)

	return cmd
}

func newExpireCommand() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Expire overdue reservations, once or periodically with --every",
		RunE: withApp(func(cmd *cobra.Command, a *app) error {
			if interval > 0 {
				err := a.engine.RunExpirySweeper(cmd.Context(), interval)
				if errors.Is(err, context.Canceled) {
					return nil
				}

				return err
			}

			expired, err := a.engine.ExpireReservations(cmd.Context())
			if err != nil {
				return err
			}

			return a.print(countView{Expired: expired})
		}),
	}
	cmd.Flags().DurationVar(&interval, "every", 0, "run as a sweeper with this interval until interrupted")

	return cmd
}

func newReportCommand() *cobra.Command {
	report := &cobra.Command{Use: "report", Short: "Read-only reports"}

	var filter circulation.BorrowedFilter

	borrowed := &cobra.Command{
		Use:   "borrowed",
		Short: "Currently borrowed copies with days overdue",
		RunE: withApp(func(cmd *cobra.Command, a *app) error {
			items, err := a.engine.CurrentlyBorrowed(cmd.Context(), filter)
			if err != nil {
				return err
			}

			views := make([]borrowedView, 0, len(items))
			for _, item := range items {
				views = append(views, borrowedView{
					Entry:       toEntryView(item.Entry),
					DueDate:     item.DueDate,
					DaysOverdue: item.DaysOverdue,
				})
			}

			return a.print(views)
		}),
	}
	borrowed.Flags().StringVar(&filter.MemberID, flagMember, "", "only this member")
	borrowed.Flags().StringVar(&filter.BookID, flagBook, "", "only this book")

	var finesMember string

	fines := &cobra.Command{
		Use:   "fines",
		Short: "Fines accrued on open loans",
		RunE: withApp(func(cmd *cobra.Command, a *app) error {
			due, err := a.engine.FinesDue(cmd.Context(), finesMember)
			if err != nil {
				return err
			}

			views := make([]fineView, 0, len(due))
			for _, fine := range due {
				views = append(views, fineView{MemberID: fine.MemberID, BookID: fine.BookID, Amount: fine.Amount})
			}

			return a.print(views)
		}),
	}
	fines.Flags().StringVar(&finesMember, flagMember, "", "only this member")

	var totalMember string

	total := &cobra.Command{
		Use:   "total-fines",
		Short: "Sum of the fines of all loans of a member",
		RunE: withApp(func(cmd *cobra.Command, a *app) error {
			sum, err := a.engine.TotalFines(cmd.Context(), totalMember)
			if err != nil {
				return err
			}

			return a.print(totalFinesView{MemberID: totalMember, Total: sum})
		}),
	}
	total.Flags().StringVar(&totalMember, flagMember, "", "member id")
	mustFlags(total, flagMember)

	var historyMember, historyBook string

	history := &cobra.Command{
		Use:   "history",
		Short: "Ledger entries of a member or a book",
		RunE: withApp(func(_ *cobra.Command, a *app) error {
			if historyBook != "" {
				return a.print(toEntryViews(a.engine.EntriesForBook(historyBook, circulation.DateRange{})))
			}

			return a.print(toEntryViews(a.engine.EntriesForMember(historyMember, circulation.DateRange{})))
		}),
	}
	history.Flags().StringVar(&historyMember, flagMember, "", "member id")
	history.Flags().StringVar(&historyBook, flagBook, "", "book id")
	history.MarkFlagsOneRequired(flagMember, flagBook)

	report.AddCommand(borrowed, fines, total, history)

	return report
}
