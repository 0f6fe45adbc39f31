// simulate fires concurrent upserts at a small pool of
// (patient, hospital, day) keys to exercise the find-or-create race,
// then runs one reconcile pass and reports how many duplicate rows the
// race produced and how many survived consolidation.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type SimConfig struct {
	APIBaseURL string
	Duration   time.Duration
	Workers    int
	KeyCount   int // distinct (patient, hospital, day) buckets to fight over
}

type upsertTarget struct {
	PatientID     uuid.UUID
	HospitalID    uuid.UUID
	SalesPersonID uuid.UUID
	CreatedByID   uuid.UUID
	SpecialityID  uuid.UUID
	DoctorID      uuid.UUID
	Day           time.Time
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]

	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]
	return avg, min, max, p95
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := SimConfig{
		APIBaseURL: getEnv("SIM_API_URL", "http://127.0.0.1:8080"),
		Duration:   getDurationEnv("SIM_DURATION", 30*time.Second),
		Workers:    getIntEnv("SIM_WORKERS", 16),
		KeyCount:   getIntEnv("SIM_KEYS", 4),
	}

	log.Printf("simulate: url=%s duration=%s workers=%d keys=%d",
		cfg.APIBaseURL, cfg.Duration, cfg.Workers, cfg.KeyCount)

	// Every worker hammers the same few consolidation buckets. Hospital,
	// specialty and doctor ids must already exist; the API rejects
	// unknown hospitals, so read them from env.
	hospitalID := mustUUIDEnv("SIM_HOSPITAL_ID")
	specialityID := mustUUIDEnv("SIM_SPECIALITY_ID")
	doctorID := mustUUIDEnv("SIM_DOCTOR_ID")

	targets := make([]upsertTarget, cfg.KeyCount)
	day := time.Now().UTC().AddDate(0, 0, 7).Truncate(24 * time.Hour)
	for i := range targets {
		targets[i] = upsertTarget{
			PatientID:     uuid.New(),
			HospitalID:    hospitalID,
			SalesPersonID: uuid.New(),
			CreatedByID:   uuid.New(),
			SpecialityID:  specialityID,
			DoctorID:      doctorID,
			Day:           day,
		}
	}

	metrics := &OperationMetrics{}
	client := &http.Client{Timeout: 10 * time.Second}

	deadline := time.Now().Add(cfg.Duration)
	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for time.Now().Before(deadline) {
				t := targets[rng.Intn(len(targets))]
				doUpsert(client, cfg.APIBaseURL, t, rng, metrics)
			}
		}(int64(w) + time.Now().UnixNano())
	}
	wg.Wait()

	avg, min, max, p95 := metrics.Stats()
	log.Printf("upserts: total=%d success=%d conflict=%d error=%d",
		atomic.LoadInt64(&metrics.Total),
		atomic.LoadInt64(&metrics.Success),
		atomic.LoadInt64(&metrics.Conflict),
		atomic.LoadInt64(&metrics.Error))
	log.Printf("latency: avg=%s min=%s max=%s p95=%s", avg, min, max, p95)

	// One reconcile pass repairs whatever slipped through the lock.
	report, err := runReconcile(client, cfg.APIBaseURL)
	if err != nil {
		log.Fatalf("reconcile: %v", err)
	}
	log.Printf("reconcile: groups_processed=%d groups_merged=%d appointments_merged=%d",
		report.GroupsProcessed, report.GroupsMerged, report.AppointmentsMerged)

	if report.AppointmentsMerged > 0 {
		log.Printf("race produced %d duplicate appointment(s); all consolidated", report.AppointmentsMerged)
	} else {
		log.Println("no duplicates slipped through the key lock")
	}
}

func doUpsert(client *http.Client, baseURL string, t upsertTarget, rng *rand.Rand, metrics *OperationMetrics) {
	slot := t.Day.Add(time.Duration(8+rng.Intn(9)) * time.Hour)

	body := map[string]any{
		"patient_id":      t.PatientID.String(),
		"hospital_id":     t.HospitalID.String(),
		"sales_person_id": t.SalesPersonID.String(),
		"created_by_id":   t.CreatedByID.String(),
		"specialties": []map[string]any{{
			"speciality_id":  t.SpecialityID.String(),
			"doctor_id":      t.DoctorID.String(),
			"scheduled_time": slot.Format(time.RFC3339),
		}},
	}

	data, _ := json.Marshal(body)

	start := time.Now()
	resp, err := client.Post(baseURL+"/appointments", "application/json", bytes.NewReader(data))
	latency := time.Since(start)
	if err != nil {
		metrics.Record(latency, false, false)
		return
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		metrics.Record(latency, true, false)
	case resp.StatusCode == http.StatusConflict:
		metrics.Record(latency, false, true)
	default:
		metrics.Record(latency, false, false)
	}
}

type reconcileReport struct {
	GroupsProcessed    int `json:"groups_processed"`
	GroupsMerged       int `json:"groups_merged"`
	AppointmentsMerged int `json:"appointments_merged"`
}

func runReconcile(client *http.Client, baseURL string) (*reconcileReport, error) {
	resp, err := client.Post(baseURL+"/duplicates/reconcile", "application/json", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("reconcile returned %d: %s", resp.StatusCode, data)
	}

	var report reconcileReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, err
	}
	return &report, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func mustUUIDEnv(key string) uuid.UUID {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("%s is required", key)
	}
	id, err := uuid.Parse(v)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return id
}
