// Command mdns-scan is a small CLI front end over pkg/scanner: a root
// command with subcommands wiring a fully configured Scanner to the real
// network/wire/clock implementations.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/matterctl/mdnsscan/pkg/duration"
	"github.com/matterctl/mdnsscan/pkg/scanner"
)

// reannounceDebounce is how long a device's identifier is suppressed from
// re-printing in --continuous mode after it was last shown. The scanner's
// continuous discovery already reports each device identifier at most once
// per call, so this is a second guard at the printing layer.
const reannounceDebounce = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		iface    string
		logLevel string
	)

	root := &cobra.Command{
		Use:   "mdns-scan",
		Short: "Discover Matter operational and commissionable devices over mDNS",
	}
	root.PersistentFlags().StringVar(&iface, "iface", "", "network interface to restrict discovery to (default: all)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	newScannerFromFlags := func() (*scanner.Scanner, error) {
		return scanner.NewDefault(iface, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: parseLogLevel(logLevel),
		})))
	}

	root.AddCommand(newFindOperationalCmd(newScannerFromFlags))
	root.AddCommand(newFindCommissionableCmd(newScannerFromFlags))
	return root
}

func newFindOperationalCmd(newScanner func() (*scanner.Scanner, error)) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "find-operational <fabric-hex> <node-hex>",
		Short: "Resolve one operational device by compressed fabric identifier and node ID",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			operationalID, err := hex.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("fabric-hex: %w", err)
			}
			nodeID, err := hex.DecodeString(args[1])
			if err != nil {
				return fmt.Errorf("node-hex: %w", err)
			}

			s, err := newScanner()
			if err != nil {
				return fmt.Errorf("start scanner: %w", err)
			}
			defer s.Close()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			dev, err := s.FindOperationalDevice(ctx, operationalID, nodeID, scanner.FindOperationalOptions{
				Timeout: timeout, HasTimeout: true,
			})
			if err != nil {
				return err
			}
			if dev == nil {
				fmt.Println("not found")
				return nil
			}
			printOperationalDevice(dev)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for a response")
	return cmd
}

func newFindCommissionableCmd(newScanner func() (*scanner.Scanner, error)) *cobra.Command {
	var (
		timeout       time.Duration
		discriminator uint16
		vendorID      uint16
		continuous    bool
	)

	cmd := &cobra.Command{
		Use:   "find-commissionable",
		Short: "Discover commissionable devices, optionally filtered by discriminator or vendor",
		RunE: func(cmd *cobra.Command, args []string) error {
			predicate := scanner.AnyCommissionable()
			switch {
			case discriminator != 0:
				predicate = scanner.ByLongDiscriminator(discriminator)
			case vendorID != 0:
				predicate = scanner.ByVendor(vendorID)
			}

			s, err := newScanner()
			if err != nil {
				return fmt.Errorf("start scanner: %w", err)
			}
			defer s.Close()

			if continuous {
				return runContinuous(s, predicate, timeout)
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			devices, err := s.FindCommissionableDevices(ctx, predicate, scanner.FindCommissionableOptions{Timeout: timeout})
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Println("no devices found")
				return nil
			}
			for _, dev := range devices {
				printCommissionableDevice(dev)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to search before giving up")
	cmd.Flags().Uint16Var(&discriminator, "discriminator", 0, "filter by long discriminator")
	cmd.Flags().Uint16Var(&vendorID, "vendor-id", 0, "filter by vendor ID")
	cmd.Flags().BoolVar(&continuous, "continuous", false, "keep printing devices as they appear until timeout or Ctrl-C")
	return cmd
}

func runContinuous(s *scanner.Scanner, predicate scanner.CommissionablePredicate, timeout time.Duration) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	cancelCh := make(chan struct{})
	go func() {
		<-sigCh
		close(cancelCh)
	}()

	debounced := debouncedPrinter(printCommissionableDevice)
	return s.FindCommissionableDevicesContinuously(ctx, predicate, debounced, timeout, timeout > 0, cancelCh)
}

// debouncedPrinter wraps print so a device already shown within
// reannounceDebounce is silently skipped instead of reprinted, using a
// duration.Manager keyed by device identifier.
func debouncedPrinter(print func(*scanner.CommissionableDevice)) func(*scanner.CommissionableDevice) {
	seen := duration.NewManager()
	return func(dev *scanner.CommissionableDevice) {
		if seen.Active(dev.DeviceIdentifier) {
			return
		}
		seen.SetTimer(dev.DeviceIdentifier, reannounceDebounce, nil)
		print(dev)
	}
}

func printOperationalDevice(dev *scanner.OperationalDevice) {
	fmt.Printf("%s\n", dev.DeviceIdentifier)
	for _, addr := range dev.Addresses() {
		fmt.Printf("  %s:%d (%s)\n", addr.IP, addr.Port, addr.Type)
	}
}

func printCommissionableDevice(dev *scanner.CommissionableDevice) {
	fmt.Printf("%s (D=%d CM=%d)\n", dev.DeviceIdentifier, dev.D, dev.CM)
	for _, addr := range dev.Addresses() {
		fmt.Printf("  %s:%d (%s)\n", addr.IP, addr.Port, addr.Type)
	}
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
