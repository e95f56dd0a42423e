// Package task runs a task specification against the Foundry API: it finds a
// matching spot auction, places one bid on it and runs the post-bid hooks.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/foundry-cloud/flow/internal/auction"
	"github.com/foundry-cloud/flow/internal/bid"
	"github.com/foundry-cloud/flow/internal/config"
	"github.com/foundry-cloud/flow/internal/flowerr"
	"github.com/foundry-cloud/flow/internal/journal"
	"github.com/foundry-cloud/flow/internal/models"
	"github.com/foundry-cloud/flow/internal/pricing"
	"github.com/foundry-cloud/flow/internal/startup"
	"github.com/foundry-cloud/flow/internal/storage"
)

// Client is the slice of the Foundry API the orchestrator needs.
// *foundry.Client satisfies it.
type Client interface {
	auction.Lister
	bid.API
	storage.API
	auction.InstanceTypeLookup
	GetUser(ctx context.Context) (models.User, error)
	ListProjects(ctx context.Context, userID string) ([]models.Project, error)
	ListSSHKeys(ctx context.Context, projectID string) ([]models.SSHKey, error)
	ListInstances(ctx context.Context, projectID string) ([]models.Instance, error)
}

// Recorder stores lifecycle events. *journal.Journal satisfies it.
type Recorder interface {
	Emit(ctx context.Context, eventType, projectID, bidID, orderName string, payload any) error
}

type Options struct {
	ProjectName string
	SSHKeyName  string

	// Pricing defaults to pricing.DefaultTable.
	Pricing pricing.Table
	// Hooks run in order after a bid is placed. Nil means DefaultHooks.
	Hooks []PostBidHook
	// Recorder may be nil.
	Recorder Recorder
	Logger   *slog.Logger
	// Suffix overrides the random order-name suffix.
	Suffix func() string
}

type Orchestrator struct {
	client      Client
	auctions    *auction.Repository
	builder     *bid.Builder
	bids        *bid.Manager
	storage     *storage.Provisioner
	prices      pricing.Table
	hooks       []PostBidHook
	recorder    Recorder
	projectName string
	sshKeyName  string
	logger      *slog.Logger
}

func New(client Client, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prices := opts.Pricing
	if prices == nil {
		prices = pricing.DefaultTable()
	}

	o := &Orchestrator{
		client:      client,
		auctions:    auction.NewRepository(client, logger),
		builder:     bid.NewBuilder(opts.Suffix),
		bids:        bid.NewManager(client, logger),
		storage:     storage.NewProvisioner(client, logger),
		prices:      prices,
		recorder:    opts.Recorder,
		projectName: opts.ProjectName,
		sshKeyName:  opts.SSHKeyName,
		logger:      logger,
	}
	o.hooks = opts.Hooks
	if o.hooks == nil {
		o.hooks = DefaultHooks(o.storage, o.recorder)
	}
	return o
}

// Bids exposes the underlying lifecycle manager.
func (o *Orchestrator) Bids() *bid.Manager { return o.bids }

type SubmitResult struct {
	Bid     models.Bid
	Payload models.BidPayload
	Auction models.Auction
	// Matched is how many auctions satisfied the criteria.
	Matched int
	State   bid.State
	// HookErrors holds post-bid hook failures. The bid stands regardless.
	HookErrors []error
}

// Submit places one bid for cfg on the first matching auction. Nothing is
// written to the API or the journal unless an auction matches.
func (o *Orchestrator) Submit(ctx context.Context, cfg *config.TaskConfig) (*SubmitResult, error) {
	if cfg == nil {
		return nil, &flowerr.ValidationError{Field: "task", Reason: "is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id, err := o.resolveIdentity(ctx)
	if err != nil {
		return nil, err
	}

	limit, err := o.prices.LimitCents(cfg.Priority(), cfg.ThresholdPrice())
	if err != nil {
		return nil, err
	}

	script, err := startup.ForTask(cfg, o.logger)
	if err != nil {
		return nil, fmt.Errorf("building startup script: %w", err)
	}

	auctions, err := o.auctions.FetchAuctions(ctx, id.ProjectID)
	if err != nil {
		return nil, err
	}
	criteria := criteriaFor(cfg)

	var matched []models.Auction
	switch out := auction.Match(auctions, criteria).(type) {
	case auction.NoMatch:
		o.logger.Warn("no matching auction", "project", id.ProjectID, "criteria", out.Criteria.String(), "considered", out.Considered)
		return nil, &flowerr.NoMatchingAuctionError{
			ProjectID:  id.ProjectID,
			Criteria:   out.Criteria.String(),
			Considered: out.Considered,
		}
	case auction.Matched:
		matched = out.Auctions
	}
	chosen, _ := auction.Select(matched)
	o.logger.Info("auction selected", "cluster", chosen.ID, "gpu_type", chosen.GPUType, "matched", len(matched))

	req := bid.Request{
		OrderName:        cfg.Name,
		InstanceQuantity: cfg.InstanceQuantity(),
		LimitPriceCents:  limit,
		SSHKeyName:       o.sshKeyName,
		StartupScript:    script,
	}
	att, err := o.storage.Attach(ctx, id.ProjectID, cfg.PersistentStorage)
	if err != nil {
		return nil, err
	}
	if att != nil {
		req.DiskAttachments = append(req.DiskAttachments, *att)
	}

	payload, err := o.builder.Build(chosen, req, id)
	if err != nil {
		return nil, err
	}

	tracker := bid.NewTracker()
	placed, err := o.bids.Submit(ctx, payload)
	if err != nil {
		o.record(ctx, journal.TypeBidFailed, id.ProjectID, "", payload.OrderName, map[string]string{
			"cluster_id": payload.ClusterID,
			"error":      err.Error(),
		})
		return nil, err
	}
	if err := tracker.Advance(bid.Submitted); err != nil {
		return nil, err
	}
	if err := tracker.Observe(placed); err != nil {
		o.logger.Warn("unexpected bid status", "bid", placed.ID, "status", placed.Status, "error", err)
	}

	res := &SubmitResult{
		Bid:     placed,
		Payload: payload,
		Auction: chosen,
		Matched: len(matched),
		State:   tracker.State(),
	}

	bc := BidContext{Task: cfg, Auction: chosen, Payload: payload, Bid: placed}
	for _, h := range o.hooks {
		if err := h.AfterBid(ctx, bc); err != nil {
			err = fmt.Errorf("%s hook: %w", h.Name(), err)
			o.logger.Warn("post-bid hook failed", "hook", h.Name(), "bid", placed.ID, "error", err)
			res.HookErrors = append(res.HookErrors, err)
			o.record(ctx, journal.TypeHookFailed, id.ProjectID, placed.ID, placed.OrderName, map[string]string{
				"hook":  h.Name(),
				"error": err.Error(),
			})
		}
	}
	return res, nil
}

type StatusReport struct {
	ProjectID string
	Bids      []models.Bid
	Instances []models.Instance
}

// Status lists the project's bids and instances, narrowed to taskName when it
// is non-empty. Bids without a name or status are hidden unless showAll.
func (o *Orchestrator) Status(ctx context.Context, taskName string, showAll bool) (*StatusReport, error) {
	projectID, err := o.projectID(ctx)
	if err != nil {
		return nil, err
	}

	bids, err := o.bids.List(ctx, projectID, taskName)
	if err != nil {
		return nil, err
	}
	report := &StatusReport{ProjectID: projectID}
	for _, b := range bids {
		if !showAll && (b.OrderName == "" || b.Status == "") {
			continue
		}
		report.Bids = append(report.Bids, b)
	}

	instances, err := o.client.ListInstances(ctx, projectID)
	if err != nil {
		return nil, &flowerr.OpError{Op: "list instances", ProjectID: projectID, Err: err}
	}
	for _, inst := range instances {
		if taskName != "" && !bid.NameMatches(inst.Name, taskName) {
			continue
		}
		report.Instances = append(report.Instances, inst)
	}
	return report, nil
}

// Cancel cancels the bid placed for taskName and returns it as it was
// before cancellation.
func (o *Orchestrator) Cancel(ctx context.Context, taskName string) (models.Bid, error) {
	projectID, err := o.projectID(ctx)
	if err != nil {
		return models.Bid{}, err
	}
	b, err := o.bids.FindByName(ctx, projectID, taskName)
	if err != nil {
		return models.Bid{}, err
	}

	tracker := bid.TrackerFor(b)
	if !bid.CanTransition(tracker.State(), bid.Canceled) {
		o.logger.Warn("bid may not be cancelable", "bid", b.ID, "status", b.Status, "state", tracker.State())
	}
	if err := o.bids.Cancel(ctx, projectID, b.ID); err != nil {
		return models.Bid{}, err
	}

	o.record(ctx, journal.TypeBidCanceled, projectID, b.ID, b.OrderName, map[string]string{"previous_status": b.Status})
	return b, nil
}

// Catalogue groups the project's current auctions by GPU type and region.
// Instance type details are fetched unless skipDetails.
func (o *Orchestrator) Catalogue(ctx context.Context, skipDetails bool) (auction.Catalogue, error) {
	projectID, err := o.projectID(ctx)
	if err != nil {
		return nil, err
	}
	auctions, err := o.auctions.FetchAuctions(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var lookup auction.InstanceTypeLookup
	if !skipDetails {
		lookup = o.client
	}
	c := auction.BuildCatalogue(ctx, auctions, lookup, o.logger)
	o.logger.Info("catalogue built", "project", projectID, "auctions", c.Len(), "gpu_types", len(c))
	return c, nil
}

func (o *Orchestrator) resolveIdentity(ctx context.Context) (bid.Identity, error) {
	user, err := o.client.GetUser(ctx)
	if err != nil {
		return bid.Identity{}, err
	}
	projectID, err := o.findProject(ctx, user.ID)
	if err != nil {
		return bid.Identity{}, err
	}
	keys, err := o.client.ListSSHKeys(ctx, projectID)
	if err != nil {
		return bid.Identity{}, &flowerr.OpError{Op: "list ssh keys", ProjectID: projectID, Err: err}
	}
	return bid.Identity{ProjectID: projectID, UserID: user.ID, SSHKeys: keys}, nil
}

func (o *Orchestrator) projectID(ctx context.Context) (string, error) {
	user, err := o.client.GetUser(ctx)
	if err != nil {
		return "", err
	}
	return o.findProject(ctx, user.ID)
}

func (o *Orchestrator) findProject(ctx context.Context, userID string) (string, error) {
	if strings.TrimSpace(o.projectName) == "" {
		return "", &flowerr.ConfigurationError{Msg: "no project name configured"}
	}
	projects, err := o.client.ListProjects(ctx, userID)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(projects))
	for _, p := range projects {
		if p.Name == o.projectName {
			return p.ID, nil
		}
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return "", &flowerr.ConfigurationError{
		Msg: fmt.Sprintf("project %q not found (available: %s)", o.projectName, strings.Join(names, ", ")),
	}
}

func (o *Orchestrator) record(ctx context.Context, eventType, projectID, bidID, orderName string, payload any) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.Emit(ctx, eventType, projectID, bidID, orderName, payload); err != nil {
		o.logger.Warn("journal write failed", "type", eventType, "error", err)
	}
}

func criteriaFor(cfg *config.TaskConfig) auction.Criteria {
	rs := cfg.ResourcesSpecification
	if rs == nil {
		return auction.Criteria{}
	}
	return auction.Criteria{
		GPUType:               rs.GPUType,
		NumGPUs:               rs.NumGPUs,
		IntranodeInterconnect: rs.IntranodeInterconnect,
		InternodeInterconnect: rs.InternodeInterconnect,
	}
}
