package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rrls/rrls"
)

var (
	countFlag        int
	failRateFlag     float64
	shutdownWaitFlag time.Duration
	ignoreDelaysFlag bool

	rootCmd = &cobra.Command{
		Use:   "rrls-demo",
		Short: "Drive a Retry and Rate-Limit Service with synthetic load",
	}
)

func main() {
	rootCmd.PersistentFlags().IntVarP(&countFlag, "count", "n", 20, "number of synthetic requests to submit")
	rootCmd.PersistentFlags().Float64VarP(&failRateFlag, "fail-rate", "f", 0.3, "fraction of attempts that fail (0-1)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Submit synthetic load, print each request's result, then shut down and print the final phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(countFlag, failRateFlag)
		},
	}
	runCmd.Flags().DurationVar(&shutdownWaitFlag, "shutdown-wait", 5*time.Second, "shutdown budget once all requests are submitted")
	runCmd.Flags().BoolVar(&ignoreDelaysFlag, "ignore-delays", false, "shut down without waiting out retry/earliest-start delays")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDemo(count int, failRate float64) error {
	rng := rand.New(rand.NewSource(1))

	process := func(ctx context.Context, payload any, attempt int) (any, error) {
		n := payload.(int)
		if rng.Float64() < failRate {
			return nil, fmt.Errorf("synthetic failure for request %d on attempt %d", n, attempt)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		return n * n, nil
	}

	svc, err := rrls.New(process)
	if err != nil {
		return fmt.Errorf("construct service: %w", err)
	}
	if err := svc.Start(); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	futures := make([]*rrls.Future, 0, count)
	for i := 0; i < count; i++ {
		f, err := svc.Submit(i)
		if errors.Is(err, rrls.ErrTooManyPendingRequests) {
			fmt.Fprintf(os.Stderr, "request %d rejected: too many pending\n", i)
			continue
		}
		if err != nil {
			return fmt.Errorf("submit request %d: %w", i, err)
		}
		futures = append(futures, f)
	}

	fmt.Printf("submitted %d requests, draining...\n", len(futures))

	succeeded, failed := 0, 0
	for i, f := range futures {
		v, err := f.Get(shutdownWaitFlag)
		switch {
		case err == nil:
			succeeded++
			fmt.Printf("request %d: ok value=%v\n", i, v)
		default:
			failed++
			fmt.Printf("request %d: failed: %v\n", i, err)
		}
	}

	pending, shutdownErr := svc.ShutdownFor(shutdownWaitFlag, ignoreDelaysFlag, false, false)
	if shutdownErr != nil {
		return fmt.Errorf("shutdown: %w", shutdownErr)
	}

	status := svc.GetStatus(0)
	fmt.Printf("succeeded=%d failed=%d pending-at-shutdown=%d final-phase=%s\n", succeeded, failed, pending, status.Phase)
	return nil
}
