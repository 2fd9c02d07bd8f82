package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/microloan/pkg/config"
	"github.com/mcclellann/microloan/pkg/ledger"
	"github.com/mcclellann/microloan/pkg/models"
	"github.com/mcclellann/microloan/pkg/store"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "microloan",
		Short:         "Microloan ledger service",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the overdue sweep",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending database migrations and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				_, logger, s, err := setup()
				if err != nil {
					return err
				}
				logger.Info("Migrations applied")
				return s.Close()
			},
		},
		newQuoteCmd(),
	)

	return root
}

func newQuoteCmd() *cobra.Command {
	var amount, paymentType string

	cmd := &cobra.Command{
		Use:   "quote <loan-id>",
		Short: "Print the current debt position of a loan, and what a payment would do to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loanID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid loan ID %q: %w", args[0], err)
			}
			var payment decimal.Decimal
			if amount != "" {
				if payment, err = decimal.NewFromString(amount); err != nil {
					return fmt.Errorf("invalid amount %q: %w", amount, err)
				}
			}

			cfg, logger, s, err := setup()
			if err != nil {
				return err
			}
			defer s.Close()

			l := newLedger(cfg, logger, s)
			out := cmd.OutOrStdout()

			if amount == "" {
				q, err := l.Quote(cmd.Context(), loanID)
				if err != nil {
					return err
				}
				printQuote(out, q)
				return nil
			}

			preview, err := l.PreviewPayment(cmd.Context(), loanID, payment, models.PaymentType(paymentType))
			if err != nil {
				return err
			}
			printQuote(out, preview.Quote)
			a, next := preview.Allocation, preview.Next
			fmt.Fprintf(out, "\nPayment:         %s (%s)\n", ledger.FormatCurrency(payment), paymentType)
			fmt.Fprintf(out, "Late fee paid:   %s\n", ledger.FormatCurrency(a.LateFeePaid))
			fmt.Fprintf(out, "Interest paid:   %s\n", ledger.FormatCurrency(a.CycleInterestPaid))
			fmt.Fprintf(out, "Principal paid:  %s\n", ledger.FormatCurrency(a.PrincipalPaid))
			fmt.Fprintf(out, "Change:          %s\n", ledger.FormatCurrency(a.Remaining))
			fmt.Fprintf(out, "\nNext principal:  %s\n", ledger.FormatCurrency(next.PrincipalOpen))
			fmt.Fprintf(out, "Next interest:   %s\n", ledger.FormatCurrency(next.CycleInterestAmount))
			fmt.Fprintf(out, "Next due:        %s\n", ledger.FormatDate(next.DueAt))
			fmt.Fprintf(out, "Status:          %s\n", next.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "", "payment amount to preview")
	cmd.Flags().StringVar(&paymentType, "type", string(models.PaymentTypeInterestPlusPrincipal), "payment type: interest_only, interest_plus_principal or full_settlement")
	return cmd
}

func printQuote(out io.Writer, q ledger.Quote) {
	fmt.Fprintf(out, "Loan:            %s\n", q.LoanID)
	fmt.Fprintf(out, "As of:           %s\n", ledger.FormatDateTime(q.AsOf))
	fmt.Fprintf(out, "Due:             %s\n", ledger.FormatDate(q.DueAt))
	fmt.Fprintf(out, "Principal open:  %s\n", ledger.FormatCurrency(q.PrincipalOpen))
	fmt.Fprintf(out, "Cycle interest:  %s\n", ledger.FormatCurrency(q.CycleInterest))
	fmt.Fprintf(out, "Late days:       %d\n", q.LateDays)
	fmt.Fprintf(out, "Late fee:        %s\n", ledger.FormatCurrency(q.LateFee))
	fmt.Fprintf(out, "Total debt:      %s\n", ledger.FormatCurrency(q.TotalDebt))
}

// setup loads and validates config, then opens the store (which migrates it).
func setup() (*config.Config, *logrus.Logger, *store.SQLiteStore, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}
	logger := cfg.Logger()

	s, err := store.NewSQLiteStore(cfg.SQLiteDBPath, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize SQLite store")
		return nil, nil, nil, err
	}
	return cfg, logger, s, nil
}

func newLedger(cfg *config.Config, logger *logrus.Logger, s store.Storage) *ledger.Ledger {
	return ledger.NewLedger(s,
		ledger.WithLogger(logger),
		ledger.WithMaxRate(cfg.MaxMonthlyRatePct),
		ledger.WithDefaultCycleDays(cfg.DefaultCycleDays),
	)
}

func runServe(parent context.Context) error {
	cfg, logger, s, err := setup()
	if err != nil {
		return err
	}
	defer s.Close()

	l := newLedger(cfg, logger, s)
	server := NewServer(l, logger)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.OverdueSweepSchedule, func() {
		if _, err := l.SweepOverdue(ctx); err != nil {
			logger.WithError(err).Error("Overdue sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule overdue sweep: %w", err)
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("port", cfg.Port).Info("Server starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		sweeper.Start()
		logger.WithField("schedule", cfg.OverdueSweepSchedule).Info("Overdue sweep scheduled")
		<-gctx.Done()
		<-sweeper.Stop().Done()
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Server stopped with error")
		return err
	}
	logger.Info("Server stopped")
	return nil
}
