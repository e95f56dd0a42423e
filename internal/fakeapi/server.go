// Package fakeapi is an in-memory Foundry API used by tests and flow-mock.
package fakeapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/foundry-cloud/flow/internal/models"
	"github.com/google/uuid"
)

type contextKey string

const accountKey contextKey = "account"

// Account is a user who can log in with email/password or a fixed token.
type Account struct {
	Email    string
	Password string
	Token    string
	User     models.User
}

type Server struct {
	mu sync.Mutex

	accounts  []Account
	projects  map[string][]models.Project // by user id
	sshKeys   map[string][]models.SSHKey  // by project id
	auctions  map[string][]models.Auction
	bids      map[string][]models.Bid
	instances map[string]map[string][]models.Instance // project -> category
	disks     map[string][]models.Disk
	types     map[string]models.InstanceType
	regions   []models.Region
	faults    map[string][]int // route pattern -> queued status codes

	logger *slog.Logger
	now    func() time.Time
}

func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		projects:  make(map[string][]models.Project),
		sshKeys:   make(map[string][]models.SSHKey),
		auctions:  make(map[string][]models.Auction),
		bids:      make(map[string][]models.Bid),
		instances: make(map[string]map[string][]models.Instance),
		disks:     make(map[string][]models.Disk),
		types:     make(map[string]models.InstanceType),
		faults:    make(map[string][]int),
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Server) AddAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = append(s.accounts, a)
}

func (s *Server) AddProject(userID string, p models.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[userID] = append(s.projects[userID], p)
}

func (s *Server) AddSSHKey(projectID string, k models.SSHKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k.ProjectID = projectID
	s.sshKeys[projectID] = append(s.sshKeys[projectID], k)
}

func (s *Server) AddAuction(projectID string, a models.Auction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auctions[projectID] = append(s.auctions[projectID], a)
}

func (s *Server) AddInstance(projectID, category string, inst models.Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addInstanceLocked(projectID, category, inst)
}

func (s *Server) addInstanceLocked(projectID, category string, inst models.Instance) {
	if s.instances[projectID] == nil {
		s.instances[projectID] = make(map[string][]models.Instance)
	}
	s.instances[projectID][category] = append(s.instances[projectID][category], inst)
}

func (s *Server) AddDisk(projectID string, d models.Disk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disks[projectID] = append(s.disks[projectID], d)
}

func (s *Server) AddInstanceType(it models.InstanceType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types[it.ID] = it
}

func (s *Server) AddRegion(r models.Region) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions = append(s.regions, r)
}

// FailNext makes the next len(statuses) requests to route answer with the
// given statuses, in order. route is a pattern as registered in Routes, e.g.
// "GET /projects/{pid}/spot-auctions/auctions".
func (s *Server) FailNext(route string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[route] = append(s.faults[route], statuses...)
}

func (s *Server) Bids(projectID string) []models.Bid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Bid(nil), s.bids[projectID]...)
}

func (s *Server) Disks(projectID string) []models.Disk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Disk(nil), s.disks[projectID]...)
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /login", s.logged(http.HandlerFunc(s.handleLogin)))

	s.handle(mux, "GET /users/{$}", s.handleWhoami)
	s.handle(mux, "GET /users/{uid}/projects", s.handleProjects)
	s.handle(mux, "GET /projects/{pid}/ssh_keys", s.handleSSHKeys)
	s.handle(mux, "GET /projects/{pid}/spot-auctions/auctions", s.handleAuctions)
	s.handle(mux, "GET /projects/{pid}/spot-auctions/bids", s.handleBidList)
	s.handle(mux, "POST /projects/{pid}/spot-auctions/bids", s.handleBidPlace)
	s.handle(mux, "DELETE /projects/{pid}/spot-auctions/bids/{bid}", s.handleBidCancel)
	s.handle(mux, "GET /projects/{pid}/all_instances", s.handleInstances)
	s.handle(mux, "GET /marketplace/v1/projects/{pid}/disks", s.handleDiskList)
	s.handle(mux, "POST /marketplace/v1/projects/{pid}/disks", s.handleDiskCreate)
	s.handle(mux, "GET /marketplace/v1/regions", s.handleRegions)
	s.handle(mux, "GET /instance_types/{id}", s.handleInstanceType)

	return mux
}

func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.logged(s.middleware(s.injectFaults(pattern, h))))
}

// middleware resolves the bearer token to an account, like a real API key
// check.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "missing auth header")
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			writeError(w, http.StatusUnauthorized, "invalid auth header format")
			return
		}

		s.mu.Lock()
		var acct *Account
		for i := range s.accounts {
			if s.accounts[i].Token == token {
				a := s.accounts[i]
				acct = &a
				break
			}
		}
		s.mu.Unlock()

		if acct == nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), accountKey, acct)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accountFromContext(ctx context.Context) *Account {
	a, ok := ctx.Value(accountKey).(*Account)
	if !ok {
		return nil
	}
	return a
}

func (s *Server) injectFaults(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		queued := s.faults[pattern]
		status := 0
		if len(queued) > 0 {
			status, s.faults[pattern] = queued[0], queued[1:]
		}
		s.mu.Unlock()

		if status != 0 {
			writeError(w, status, "injected failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "took", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Email == req.Email && a.Password == req.Password {
			writeJSON(w, http.StatusOK, map[string]string{"access_token": a.Token})
			return
		}
	}
	writeError(w, http.StatusUnauthorized, "invalid credentials")
}

func (s *Server) handleWhoami(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, accountFromContext(r.Context()).User)
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	if accountFromContext(r.Context()).User.ID != uid {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, nonNil(s.projects[uid]))
}

func (s *Server) handleSSHKeys(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, nonNil(s.sshKeys[r.PathValue("pid")]))
}

func (s *Server) handleAuctions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, nonNil(s.auctions[r.PathValue("pid")]))
}

func (s *Server) handleBidList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, nonNil(s.bids[r.PathValue("pid")]))
}

func (s *Server) handleBidPlace(w http.ResponseWriter, r *http.Request) {
	pid := r.PathValue("pid")
	acct := accountFromContext(r.Context())

	var p models.BidPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if p.ProjectID != pid || p.UserID != acct.User.ID {
		writeError(w, http.StatusForbidden, "payload does not match caller")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasAuctionLocked(pid, p.ClusterID) {
		writeError(w, http.StatusNotFound, "auction not found")
		return
	}
	for _, id := range p.SSHKeyIDs {
		if !s.hasSSHKeyLocked(pid, id) {
			writeError(w, http.StatusBadRequest, "unknown ssh key "+id)
			return
		}
	}

	now := s.now().UTC()
	b := models.Bid{
		ID:               "bid_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		OrderName:        p.OrderName,
		Status:           "pending",
		ClusterID:        p.ClusterID,
		InstanceQuantity: p.InstanceQuantity,
		InstanceTypeID:   p.InstanceTypeID,
		LimitPriceCents:  p.LimitPriceCents,
		ProjectID:        pid,
		UserID:           p.UserID,
		SSHKeyIDs:        p.SSHKeyIDs,
		StartupScript:    p.StartupScript,
		CreatedAt:        &now,
	}
	for _, d := range p.DiskAttachments {
		b.DiskIDs = append(b.DiskIDs, d.DiskID)
	}
	s.bids[pid] = append(s.bids[pid], b)

	for i := 0; i < p.InstanceQuantity; i++ {
		s.addInstanceLocked(pid, "spot", models.Instance{
			InstanceID:     uuid.NewString(),
			Name:           p.OrderName,
			InstanceStatus: "pending",
			InstanceTypeID: p.InstanceTypeID,
			ClusterID:      p.ClusterID,
			OrderType:      "spot",
			SpotBidID:      b.ID,
			CreatedTS:      &now,
		})
	}

	s.logger.Info("bid placed", "project", pid, "bid", b.ID, "order", b.OrderName)
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleBidCancel(w http.ResponseWriter, r *http.Request) {
	pid, bidID := r.PathValue("pid"), r.PathValue("bid")

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.bids[pid] {
		b := &s.bids[pid][i]
		if b.ID != bidID {
			continue
		}
		if b.Status == "canceled" {
			break
		}
		now := s.now().UTC()
		b.Status = "canceled"
		b.DeactivatedAt = &now
		for cat, list := range s.instances[pid] {
			for j := range list {
				if list[j].SpotBidID == bidID {
					s.instances[pid][cat][j].InstanceStatus = "terminated"
				}
			}
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeError(w, http.StatusNotFound, "bid not found")
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.instances[r.PathValue("pid")]
	if out == nil {
		out = map[string][]models.Instance{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDiskList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, nonNil(s.disks[r.PathValue("pid")]))
}

func (s *Server) handleDiskCreate(w http.ResponseWriter, r *http.Request) {
	pid := r.PathValue("pid")

	var req models.CreateDiskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := validateDisk(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	known := false
	for _, reg := range s.regions {
		known = known || reg.ID == req.RegionID
	}
	if !known {
		writeError(w, http.StatusBadRequest, "unknown region "+req.RegionID)
		return
	}

	d := models.Disk{
		ID:         req.DiskID,
		Name:       req.Name,
		VolumeName: req.Name,
		Interface:  req.DiskInterface,
		RegionID:   req.RegionID,
		Size:       req.Size,
		Unit:       req.SizeUnit,
	}
	s.disks[pid] = append(s.disks[pid], d)
	writeJSON(w, http.StatusCreated, d)
}

func validateDisk(req models.CreateDiskRequest) error {
	switch {
	case req.DiskID == "" || req.Name == "":
		return errors.New("disk_id and name are required")
	case req.Size <= 0:
		return errors.New("size must be positive")
	}
	return nil
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, nonNil(s.regions))
}

func (s *Server) handleInstanceType(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	it, ok := s.types[r.PathValue("id")]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "instance type not found")
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (s *Server) hasAuctionLocked(pid, clusterID string) bool {
	for _, a := range s.auctions[pid] {
		if a.ID == clusterID {
			return true
		}
	}
	return false
}

func (s *Server) hasSSHKeyLocked(pid, id string) bool {
	for _, k := range s.sshKeys[pid] {
		if k.ID == id {
			return true
		}
	}
	return false
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
