package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/foundry-cloud/flow/internal/auth"
	"github.com/foundry-cloud/flow/internal/config"
	"github.com/foundry-cloud/flow/internal/foundry"
	"github.com/foundry-cloud/flow/internal/gateway"
	"github.com/foundry-cloud/flow/internal/journal"
	"github.com/foundry-cloud/flow/internal/netutils"
	"github.com/foundry-cloud/flow/internal/task"
	"github.com/spf13/cobra"
)

var (
	settingsPath string
	verbosity    int
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "flow",
		Short:         "Bid on Foundry spot GPU auctions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(newLogger(verbosity))
		},
	}
	rootCmd.PersistentFlags().StringVar(&settingsPath, "config", "", "settings file (default ~/.flow.yaml)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "more logging (-v info, -vv debug)")

	submitCmd := &cobra.Command{
		Use:   "submit <config-file>",
		Short: "Submit a task to the best matching spot auction",
		Args:  cobra.ExactArgs(1),
		RunE:  submitTask,
	}

	var statusName string
	var showAll bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show bids and instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(cmd.Context(), statusName, showAll)
		},
	}
	statusCmd.Flags().StringVar(&statusName, "task-name", "", "only show this task")
	statusCmd.Flags().BoolVar(&showAll, "show-all", false, "include bids without a name or status")

	var cancelName string
	cancelCmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the bid placed for a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cancelTask(cmd.Context(), cancelName)
		},
	}
	cancelCmd.Flags().StringVar(&cancelName, "task-name", "", "task to cancel")
	cancelCmd.MarkFlagRequired("task-name")

	var limit int
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent local bid events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showHistory(cmd.Context(), limit)
		},
	}
	historyCmd.Flags().IntVar(&limit, "limit", 20, "number of events")

	var catalogueOut string
	var skipTypes bool
	catalogueCmd := &cobra.Command{
		Use:   "catalogue",
		Short: "List current auctions by GPU type and region",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showCatalogue(cmd.Context(), catalogueOut, skipTypes)
		},
	}
	catalogueCmd.Flags().StringVarP(&catalogueOut, "output", "o", "", "also write the catalogue as YAML to this file")
	catalogueCmd.Flags().BoolVar(&skipTypes, "skip-instance-types", false, "do not look up instance type details")

	var update config.Settings
	configureCmd := &cobra.Command{
		Use:   "configure",
		Short: "Save account settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return configure(cmd, update)
		},
	}
	configureCmd.Flags().StringVar(&update.APIURL, "api-url", "", "Foundry API URL")
	configureCmd.Flags().StringVar(&update.Email, "email", "", "account email")
	configureCmd.Flags().StringVar(&update.Password, "password", "", "account password")
	configureCmd.Flags().StringVar(&update.Token, "token", "", "pre-issued API token")
	configureCmd.Flags().StringVar(&update.ProjectName, "project", "", "project name")
	configureCmd.Flags().StringVar(&update.SSHKeyName, "ssh-key", "", "SSH key name")
	configureCmd.Flags().BoolVar(&update.Insecure, "insecure", false, "skip TLS verification")

	rootCmd.AddCommand(submitCmd, statusCmd, cancelCmd, historyCmd, catalogueCmd, configureCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newLogger(v int) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case v >= 2:
		level = slog.LevelDebug
	case v == 1:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// session is everything a remote command needs, built from settings.
type session struct {
	settings *config.Settings
	orch     *task.Orchestrator
	journal  *journal.Journal
}

func (s *session) Close() {
	if s.journal != nil {
		s.journal.Close()
	}
}

func openSession() (*session, error) {
	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	logger := slog.Default()
	logger.Debug("settings loaded", "settings", settings)

	httpClient := netutils.NewClient(settings.Timeout(), settings.Insecure)

	var tokens auth.TokenSource = auth.StaticToken(settings.Token)
	if settings.Token == "" {
		a, err := auth.NewAuthenticator(settings.APIURL, settings.Email, settings.Password, httpClient, logger)
		if err != nil {
			return nil, err
		}
		tokens = a
	}

	gw := gateway.New(settings.APIURL, httpClient, tokens, gateway.DefaultRetryConfig(), logger)
	client := foundry.NewClient(gw)

	s := &session{settings: settings}
	opts := task.Options{
		ProjectName: settings.ProjectName,
		SSHKeyName:  settings.SSHKeyName,
		Logger:      logger,
	}
	if j, err := journal.Open(settings.JournalPath); err != nil {
		logger.Warn("journal unavailable, continuing without it", "path", settings.JournalPath, "error", err)
	} else {
		s.journal = j
		opts.Recorder = j
	}
	s.orch = task.New(client, opts)
	return s, nil
}

func submitTask(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadTaskConfig(args[0])
	if err != nil {
		return err
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.orch.Submit(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	price := "-"
	if res.Auction.LastPrice.Valid {
		price = "$" + res.Auction.LastPrice.Decimal.StringFixed(2)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "BID\t%s\n", res.Bid.ID)
	fmt.Fprintf(w, "ORDER\t%s\n", res.Bid.OrderName)
	fmt.Fprintf(w, "STATE\t%s\n", res.State)
	fmt.Fprintf(w, "AUCTION\t%s (%s, %d matched)\n", res.Auction.ID, res.Auction.GPUType, res.Matched)
	fmt.Fprintf(w, "LAST PRICE\t%s\n", price)
	fmt.Fprintf(w, "LIMIT\t$%d.%02d\n", res.Payload.LimitPriceCents/100, res.Payload.LimitPriceCents%100)
	if err := w.Flush(); err != nil {
		return err
	}
	for _, herr := range res.HookErrors {
		fmt.Fprintln(os.Stderr, "warning:", herr)
	}
	return nil
}

func showStatus(ctx context.Context, name string, showAll bool) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	report, err := s.orch.Status(ctx, name, showAll)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BID\tNAME\tSTATUS\tCLUSTER\tQTY\tLIMIT\tCREATED")
	for _, b := range report.Bids {
		created := "-"
		if b.CreatedAt != nil {
			created = b.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n", b.ID, b.OrderName, b.Status, b.ClusterID, b.InstanceQuantity, b.LimitPriceCents, created)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(report.Instances) == 0 {
		return nil
	}
	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE\tNAME\tCATEGORY\tSTATUS\tSSH")
	for _, inst := range report.Instances {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", inst.InstanceID, inst.Name, inst.Category, inst.InstanceStatus, orDash(inst.SSHDestination))
	}
	return w.Flush()
}

func cancelTask(ctx context.Context, name string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	b, err := s.orch.Cancel(ctx, name)
	if err != nil {
		return err
	}
	fmt.Printf("Canceled bid %s (%s)\n", b.ID, b.OrderName)
	return nil
}

func showCatalogue(ctx context.Context, output string, skipTypes bool) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	c, err := s.orch.Catalogue(ctx, skipTypes)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GPU TYPE\tREGION\tCLUSTER\tQTY\tPRICE\tINSTANCE TYPE\tCPUS/GPUS/MEM")
	for _, gpu := range c.GPUTypes() {
		for _, region := range c.Regions(gpu) {
			for _, e := range c[gpu][region] {
				instanceType, shape := e.InstanceTypeID, "-"
				if it := e.InstanceType; it != nil {
					instanceType = it.Name
					shape = fmt.Sprintf("%s/%s/%s", intOrDash(it.NumCPUs), intOrDash(it.NumGPUs), intOrDash(it.MemoryGB))
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					gpu, region, e.ClusterID, intOrDash(e.InventoryQuantity), orDash(e.LastPrice), orDash(instanceType), shape)
			}
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if output == "" {
		return nil
	}
	f, err := os.Create(output)
	if err != nil {
		return err
	}
	if err := c.WriteYAML(f); err != nil {
		f.Close()
		return fmt.Errorf("writing catalogue: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("Wrote %d auctions to %s\n", c.Len(), output)
	return nil
}

func showHistory(ctx context.Context, limit int) error {
	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		return err
	}
	j, err := journal.Open(settings.JournalPath)
	if err != nil {
		return err
	}
	defer j.Close()

	events, err := j.Recent(ctx, limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tEVENT\tBID\tORDER\tDETAIL")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.At.Local().Format("2006-01-02 15:04:05"), e.Type, deref(e.BidID), deref(e.OrderName), deref(e.PayloadJSON))
	}
	return w.Flush()
}

func configure(cmd *cobra.Command, update config.Settings) error {
	path := settingsPath
	if path == "" {
		var err error
		if path, err = config.DefaultSettingsPath(); err != nil {
			return err
		}
	}
	current, err := loadFileOnly(path)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	set := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	set("api-url", &current.APIURL, update.APIURL)
	set("email", &current.Email, update.Email)
	set("password", &current.Password, update.Password)
	set("token", &current.Token, update.Token)
	set("project", &current.ProjectName, update.ProjectName)
	set("ssh-key", &current.SSHKeyName, update.SSHKeyName)
	if flags.Changed("insecure") {
		current.Insecure = update.Insecure
	}

	if err := config.SaveSettings(path, current); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	fmt.Printf("Settings saved to %s\n", path)
	return nil
}

// loadFileOnly reads the settings file without environment overrides or
// defaults, so configure never persists values that came from the
// environment.
func loadFileOnly(path string) (*config.Settings, error) {
	cfg := &config.Settings{}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(data)) == "" {
		return cfg, nil
	}
	return config.ParseSettings(data)
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func intOrDash(n *int) string {
	if n == nil {
		return "-"
	}
	return strconv.Itoa(*n)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
