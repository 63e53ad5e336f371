package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// Wire types mirror the fields of the printfleet advisor request this stub
// reads; unknown fields are ignored.
type machine struct {
	ID         string `json:"id"`
	Technology string `json:"technology"`
	BaseStatus string `json:"base_status"`
}

type scheduledJob struct {
	End time.Time `json:"end"`
}

type job struct {
	ID            string        `json:"id"`
	ProjectCode   string        `json:"project_code"`
	Technology    string        `json:"technology"`
	EstimatedTime time.Duration `json:"estimated_time"`
	Deadline      time.Time     `json:"deadline"`
}

type backlogEntry struct {
	Job            job   `json:"job"`
	CommittedItems []int `json:"committed_items"`
}

type advisorRequest struct {
	ID          string    `json:"id"`
	GeneratedAt time.Time `json:"generated_at"`
	Snapshot    struct {
		Machines  []machine                 `json:"machines"`
		Timelines map[string][]scheduledJob `json:"timelines"`
		Backlog   []backlogEntry            `json:"backlog"`
	} `json:"snapshot"`
	Project struct {
		ProjectCode string   `json:"project_code"`
		JobIDs      []string `json:"job_ids"`
	} `json:"project"`
}

type placement struct {
	JobID     string    `json:"job_id"`
	MachineID string    `json:"machine_id"`
	Start     time.Time `json:"start"`
}

type proposal struct {
	ID         string      `json:"id"`
	Rationale  string      `json:"rationale,omitempty"`
	Placements []placement `json:"placements"`
}

type advisorResponse struct {
	Proposals      []proposal `json:"proposals"`
	DelayRationale string     `json:"delay_rationale,omitempty"`
}

type stats struct {
	Count        int64    `json:"count"`
	Rejected     int64    `json:"rejected"`
	LastRequests []string `json:"last_requests"`
	Since        string   `json:"since"`
}

var (
	mu           sync.Mutex
	count        int64
	rejected     int64
	lastRequests []string
	since        time.Time
	maxStored    = 50

	secret string
)

func main() {
	since = time.Now().UTC()
	secret = os.Getenv("ADVISOR_SECRET")

	addr := ":8090"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	http.HandleFunc("/propose", proposeHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		rejected = 0
		lastRequests = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("advisor-stub listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func proposeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if secret != "" && !verifySignature(secret, body, r.Header.Get("X-Printfleet-Signature")) {
		mu.Lock()
		rejected++
		mu.Unlock()
		log.Printf("request rejected: bad signature (id=%s)", r.Header.Get("X-Printfleet-Request-ID"))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var req advisorRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	mu.Lock()
	count++
	lastRequests = append(lastRequests, req.ID)
	if len(lastRequests) > maxStored {
		lastRequests = lastRequests[len(lastRequests)-maxStored:]
	}
	current := count
	mu.Unlock()

	resp := plan(req)
	log.Printf("request #%d id=%s attempt=%s placements=%d",
		current, req.ID, r.Header.Get("X-Printfleet-Attempt"), len(resp.Proposals[0].Placements))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// plan appends every selected backlog job after the last job of the first
// available machine with a matching technology.
func plan(req advisorRequest) advisorResponse {
	cursor := make(map[string]time.Time)
	for _, m := range req.Snapshot.Machines {
		next := req.GeneratedAt
		for _, sj := range req.Snapshot.Timelines[m.ID] {
			if sj.End.After(next) {
				next = sj.End
			}
		}
		cursor[m.ID] = next
	}

	wanted := make(map[string]bool, len(req.Project.JobIDs))
	for _, id := range req.Project.JobIDs {
		wanted[id] = true
	}

	p := proposal{ID: "stub-" + req.ID, Rationale: "append after last job"}
	var late []string
	for _, e := range req.Snapshot.Backlog {
		if len(e.CommittedItems) > 0 {
			continue
		}
		if len(wanted) > 0 && !wanted[e.Job.ID] {
			continue
		}
		if len(wanted) == 0 && req.Project.ProjectCode != "" && e.Job.ProjectCode != req.Project.ProjectCode {
			continue
		}

		var best string
		for _, m := range req.Snapshot.Machines {
			if m.BaseStatus == "maintenance" || m.BaseStatus == "offline" {
				continue
			}
			if !strings.EqualFold(m.Technology, e.Job.Technology) {
				continue
			}
			if best == "" || cursor[m.ID].Before(cursor[best]) {
				best = m.ID
			}
		}
		if best == "" {
			continue
		}

		start := cursor[best]
		end := start.Add(e.Job.EstimatedTime)
		cursor[best] = end
		p.Placements = append(p.Placements, placement{JobID: e.Job.ID, MachineID: best, Start: start})
		if !e.Job.Deadline.IsZero() && end.After(e.Job.Deadline) {
			late = append(late, e.Job.ID)
		}
	}

	resp := advisorResponse{Proposals: []proposal{p}}
	if len(late) > 0 {
		resp.DelayRationale = fmt.Sprintf("%d job(s) finish after their deadline: %s", len(late), strings.Join(late, ", "))
	}
	return resp
}

func verifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:        count,
		Rejected:     rejected,
		LastRequests: lastRequests,
		Since:        since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}
