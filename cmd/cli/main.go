// Command cli is the terminal frontend for a desup server: list scans, start
// one, and walk through duplicate resolution interactively.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mescon/desup/internal/client"
	"github.com/mescon/desup/internal/config"
	"github.com/mescon/desup/internal/domain"
	"github.com/mescon/desup/internal/resolution"
)

var (
	serverURL string
	token     string
	timeout   time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "desup",
		Short: "Duplicate-file scan client",
		Long: `desup - client for the duplicate-file scan service.

Lists scans, starts new ones, and resolves duplicate groups by choosing
which copy of each file to keep. The bearer token is passed through to the
server unchanged.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("DESUP_SERVER", "http://localhost:3978"), "Server base URL (env: DESUP_SERVER)")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("DESUP_TOKEN"), "Bearer token (env: DESUP_TOKEN)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	scansCmd := &cobra.Command{
		Use:   "scans",
		Short: "List your scans",
		RunE:  runListScans,
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new scan",
		RunE:  runStartScan,
	}

	resolveCmd := &cobra.Command{
		Use:   "resolve [scan-id]",
		Short: "Resolve the duplicates of a scan interactively",
		Long: `Walks the duplicate groups of a scan one at a time. For each group,
choose the copy to keep; the other copies are deleted from the drive.
Without a scan id, the most recent completed scan is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runResolve,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("desup %s\n", config.Version)
		},
	}

	rootCmd.AddCommand(scansCmd, startCmd, resolveCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newClient() *client.Client {
	return client.New(serverURL, token, timeout)
}

func runListScans(cmd *cobra.Command, args []string) error {
	scans, err := newClient().ListScans(context.Background())
	if err != nil {
		return err
	}

	for _, scan := range scans {
		fmt.Printf("%s  %-8s  %s  %d duplicate groups\n",
			scan.ID, scan.Status, scan.ScanDate.Format("2006-01-02 15:04"), len(scan.Duplicates))
	}
	return nil
}

func runStartScan(cmd *cobra.Command, args []string) error {
	scan, err := newClient().StartScan(context.Background())
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 409 {
			return errors.New("a scan is already running; wait for it to complete")
		}
		return err
	}

	fmt.Printf("Scan %s started\n", scan.ID)
	return nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	c := newClient()
	ctx := context.Background()

	scan, err := pickScan(ctx, c, args)
	if err != nil {
		return err
	}
	if len(scan.Duplicates) == 0 {
		fmt.Println("No duplicates to resolve.")
		return nil
	}

	fmt.Printf("Scan %s: %d duplicate groups\n\n", scan.ID, len(scan.Duplicates))
	session := resolution.NewSession(scan.Duplicates)
	reader := bufio.NewReader(os.Stdin)

	for {
		dup, ok := session.Current()
		if !ok {
			fmt.Println("Done.")
			return nil
		}

		printGroup(dup)
		choice, err := prompt(reader, "Keep which copy? (number, s=skip, q=quit): ")
		if err != nil {
			return err
		}

		switch choice {
		case "q":
			return nil
		case "s":
			if err := session.Skip(); err != nil {
				return err
			}
			continue
		}

		n, err := strconv.Atoi(choice)
		if err != nil || n < 1 || n > len(dup.Locations) {
			fmt.Println("Enter a location number, s, or q.")
			continue
		}
		if err := session.SelectKeep(dup.Locations[n-1].Path); err != nil {
			fmt.Printf("Invalid selection: %v\n", err)
			continue
		}

		res, err := session.Confirm()
		if err != nil {
			return err
		}

		if err := c.ResolveDuplicate(ctx, scan.ID, res.FileName, res.FileToKeep); err != nil {
			fmt.Printf("Resolve failed: %v\n", err)
			if err := session.SaveFailed(); err != nil {
				return err
			}
			continue
		}
		fmt.Printf("Kept %s, other copies deleted.\n\n", res.FileToKeep)
		if err := session.SaveSucceeded(); err != nil {
			return err
		}
	}
}

// pickScan resolves the scan to work on: the one named on the command line,
// or the most recent one with duplicates.
func pickScan(ctx context.Context, c *client.Client, args []string) (*domain.Scan, error) {
	scans, err := c.ListScans(ctx)
	if err != nil {
		return nil, err
	}

	if len(args) == 1 {
		for i := range scans {
			if scans[i].ID == args[0] {
				return &scans[i], nil
			}
		}
		return nil, fmt.Errorf("scan %s not found", args[0])
	}

	for i := range scans {
		if scans[i].Status == domain.ScanComplete && len(scans[i].Duplicates) > 0 {
			return &scans[i], nil
		}
	}
	return nil, errors.New("no completed scan with duplicates; run 'desup scans' to check status")
}

func printGroup(dup domain.Duplicate) {
	fmt.Printf("%s (%d bytes)\n", dup.FileName, dup.Size)
	for i, loc := range dup.Locations {
		marker := " "
		if loc.Status == domain.LocationDeleted {
			marker = "x"
		}
		fmt.Printf("  [%d]%s %s\n", i+1, marker, loc.Path)
	}
}

func prompt(reader *bufio.Reader, msg string) (string, error) {
	fmt.Print(msg)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(line)), nil
}
