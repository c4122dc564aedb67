package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"inspectfleet/internal/apierr"
	"inspectfleet/internal/core/job"
	"inspectfleet/internal/core/session"
)

var allDigits = regexp.MustCompile(`^\d+$`)

func apierrRateLimit() *apierr.Error {
	return apierr.New(apierr.RateLimit, "rate limit exceeded")
}

func writeError(w http.ResponseWriter, err *apierr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())
	_ = json.NewEncoder(w).Encode(map[string]string{"error": string(err.Kind), "message": err.Message})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// handleIndex is GET / — a single link from either url= or discrete
// s/a/d/m query params, with an optional price submission.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	triple, perr := parseLink(q.Get("url"), q.Get("s"), q.Get("a"), q.Get("d"), q.Get("m"))
	if perr != nil {
		writeError(w, perr)
		return
	}

	link := job.Link{Triple: triple}
	if price, ok := s.parsePrice(q, triple); ok {
		link.Price = price
	}

	s.runJob(w, r, false, []job.Link{link})
}

type bulkLinkRequest struct {
	Link  string `json:"link"`
	Price *int64 `json:"price,omitempty"`
}

type bulkRequest struct {
	BulkKey  string            `json:"bulk_key,omitempty"`
	PriceKey string            `json:"priceKey,omitempty"`
	Links    []bulkLinkRequest `json:"links"`
}

// handleBulk is POST /bulk — a JSON batch of links sharing one admission check.
func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Links) == 0 {
		writeError(w, apierr.New(apierr.BadBody, "empty or malformed links list"))
		return
	}

	admission := s.settings.Get().Admission
	if admission != nil && admission.BulkKey != "" && admission.BulkKey != body.BulkKey {
		writeError(w, apierr.New(apierr.BadSecret, "bulk_key mismatch"))
		return
	}
	if admission != nil && admission.MaxSimultaneousRequests > 0 && len(body.Links) > admission.MaxSimultaneousRequests {
		writeError(w, apierr.New(apierr.MaxRequests, "link count exceeds max_simultaneous_requests"))
		return
	}

	links := make([]job.Link, 0, len(body.Links))
	for _, raw := range body.Links {
		triple, perr := parseLink(raw.Link, "", "", "", "")
		if perr != nil {
			writeError(w, perr)
			return
		}
		links = append(links, job.Link{Triple: triple, Price: raw.Price})
	}

	s.runJob(w, r, true, links)
}

func (s *Server) parsePrice(q map[string][]string, triple session.Triple) (*int64, bool) {
	priceStr := first(q["price"])
	priceKey := first(q["priceKey"])
	admission := s.settings.Get().Admission
	if admission == nil || admission.PriceKey == "" || admission.PriceKey != priceKey {
		return nil, false
	}
	if priceStr == "" || !allDigits.MatchString(priceStr) {
		return nil, false
	}
	// Price submission is accepted only for market links (owner from m).
	if triple.M == "" || triple.Owner() != triple.M {
		return nil, false
	}
	price, err := strconv.ParseInt(priceStr, 10, 64)
	if err != nil {
		return nil, false
	}
	return &price, true
}

func first(vs []string) string {
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// runJob fills cache hits straight into the Job, enqueues the residue
// (subject to admission), and waits for completion.
func (s *Server) runJob(w http.ResponseWriter, r *http.Request, bulk bool, links []job.Link) {
	ip := clientIP(r)
	ctx := r.Context()

	j := job.New(ip, bulk, links)
	residue := s.fillFromCache(ctx, j, links)

	if len(residue) == 0 {
		writeJSON(w, jobResponse(j))
		return
	}

	if s.fleet.ReadyCount() == 0 {
		writeError(w, apierr.New(apierr.SteamOffline, "no session currently ready"))
		return
	}

	admission := s.settings.Get().Admission
	if admission != nil {
		if admission.MaxSimultaneousRequests > 0 && s.queue.Users(ip)+len(residue) > admission.MaxSimultaneousRequests {
			writeError(w, apierr.New(apierr.MaxRequests, "per-client request cap exceeded"))
			return
		}
		if admission.MaxQueueSize > 0 && s.queue.Size()+len(residue) > admission.MaxQueueSize {
			writeError(w, apierr.New(apierr.MaxQueueSize, "queue is full"))
			return
		}
	}

	s.queue.AddIndices(j, residue, s.cfg.MaxAttempts)

	waitCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	select {
	case <-j.Done():
	case <-waitCtx.Done():
	}

	writeJSON(w, jobResponse(j))
}

// fillFromCache resolves every link already present in the Cache Facade
// straight into j's slots — applying any submitted price update against
// the cached record in place — and returns the indices still needing an
// upstream inspect.
func (s *Server) fillFromCache(ctx context.Context, j *job.Job, links []job.Link) []int {
	residue := make([]int, 0, len(links))
	if s.cache == nil {
		for i := range links {
			residue = append(residue, i)
		}
		return residue
	}

	for i, link := range links {
		assetID := link.Triple.A
		cached, ok, err := s.cache.Get(ctx, assetID)
		if err != nil {
			s.log.Warn().Err(err).Str("asset", assetID).Msg("cache lookup failed")
		}
		if !ok {
			residue = append(residue, i)
			continue
		}

		if link.Price != nil {
			if err := s.cache.UpdatePrice(ctx, assetID, *link.Price); err != nil {
				s.log.Warn().Err(err).Str("asset", assetID).Msg("cache price update failed")
			} else {
				cached.Price = link.Price
			}
		}

		j.SetSlot(i, job.SlotResult{Item: cached.ToItem()})
	}
	return residue
}

func jobResponse(j *job.Job) interface{} {
	results := j.Results()
	if len(results) == 1 {
		return slotJSON(results[0])
	}
	out := make([]interface{}, len(results))
	for i, r := range results {
		out[i] = slotJSON(r)
	}
	return map[string]interface{}{"results": out}
}

func slotJSON(r *job.SlotResult) interface{} {
	if r == nil {
		return map[string]string{"error": string(apierr.TTLExceeded), "message": "timed out"}
	}
	if r.Err != nil {
		return map[string]string{"error": string(r.Err.Kind), "message": r.Err.Message}
	}
	return r.Item
}

type statsResponse struct {
	BotsOnline       int         `json:"bots_online"`
	BotsTotal        int         `json:"bots_total"`
	QueueSize        int         `json:"queue_size"`
	QueueConcurrency int         `json:"queue_concurrency"`
	PendingAuth      int         `json:"pending_auth"`
	ProxyPool        interface{} `json:"proxy_pool,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var groups interface{}
	if s.pool != nil {
		groups = s.pool.Groups()
	}
	writeJSON(w, statsResponse{
		BotsOnline:       s.fleet.ReadyCount(),
		BotsTotal:        s.fleet.TotalCount(),
		QueueSize:        s.queue.Size(),
		QueueConcurrency: s.queue.Concurrency(),
		PendingAuth:      len(s.fleet.PendingAuthList()),
		ProxyPool:        groups,
	})
}

type authRequest struct {
	Username string `json:"username"`
	Code     string `json:"code"`
	AuthKey  string `json:"auth_key,omitempty"`
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body authRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apierr.New(apierr.BadBody, "malformed auth request"))
		return
	}

	admission := s.settings.Get().Admission
	if admission != nil && admission.AuthKey != "" && admission.AuthKey != body.AuthKey {
		writeError(w, apierr.New(apierr.BadSecret, "auth_key mismatch"))
		return
	}

	if err := s.fleet.SubmitAuthCode(body.Username, body.Code); err != nil {
		http.Error(w, "not pending", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePendingAuth(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	out := make(map[string]interface{})
	for username, p := range s.fleet.PendingAuthList() {
		out[username] = map[string]interface{}{
			"auth_type":    p.AuthType,
			"elapsed_secs": now.Sub(p.Timestamp).Seconds(),
		}
	}
	writeJSON(w, out)
}

type statusResponse struct {
	Online       int    `json:"online"`
	Target       int    `json:"target"`
	Total        int    `json:"total"`
	Busy         int    `json:"busy"`
	Failed       int    `json:"failed"`
	Spares       int    `json:"spares"`
	QueuedSpares int    `json:"queuedSpares"`
	PendingAuth  int    `json:"pendingAuth"`
	Status       string `json:"status"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	fleetSettings := s.settings.Get().Fleet
	target := 0
	if fleetSettings != nil {
		target = fleetSettings.MaxOnlineBots
	}
	writeJSON(w, statusResponse{
		Online:       s.fleet.ReadyCount(),
		Target:       target,
		Total:        s.fleet.TotalCount(),
		Busy:         s.fleet.BusyCount(),
		Failed:       s.fleet.FailedCount(),
		Spares:       s.fleet.SpareCount(),
		QueuedSpares: s.fleet.QueuedSpareCount(),
		PendingAuth:  len(s.fleet.PendingAuthList()),
		Status:       string(s.fleet.Status()),
	})
}

// handleSettings serves GET (the whole runtime settings document) and POST
// (replaces the one module named by the "module" query parameter),
// basic-auth gated by Server.basicAuth.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.settings.Get())
	case http.MethodPost:
		moduleKey := r.URL.Query().Get("module")
		if moduleKey == "" {
			http.Error(w, "missing module query parameter", http.StatusBadRequest)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		if err := s.settings.Update(moduleKey, body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
