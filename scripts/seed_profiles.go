// seed_profiles.go loads students, scribes and exams from a JSON fixture and
// PUTs them through the scribematch admin API.
//
// Usage:
//
//	go run scripts/seed_profiles.go -fixture scripts/profiles.json -api http://localhost:8700 -token $SCRIBEMATCH_ADMIN_TOKEN
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"
)

type fixture struct {
	Students []json.RawMessage `json:"students"`
	Scribes  []json.RawMessage `json:"scribes"`
	Exams    []json.RawMessage `json:"exams"`
}

type seeder struct {
	client   *http.Client
	api      string
	token    string
	clientID string
	dryRun   bool

	created, failed int
}

func main() {
	fixturePath := flag.String("fixture", "scripts/profiles.json", "path to the JSON fixture")
	apiURL := flag.String("api", "http://localhost:8700", "scribematch API base URL")
	token := flag.String("token", os.Getenv("SCRIBEMATCH_ADMIN_TOKEN"), "admin bearer token")
	clientID := flag.String("client", "seed", "X-Client-ID header value")
	dryRun := flag.Bool("dry-run", false, "print records without sending")
	flag.Parse()

	data, err := os.ReadFile(*fixturePath)
	if err != nil {
		log.Fatalf("read fixture: %v", err)
	}
	var fx fixture
	if err := json.Unmarshal(data, &fx); err != nil {
		log.Fatalf("parse fixture: %v", err)
	}
	log.Printf("loaded %d students, %d scribes, %d exams from %s", len(fx.Students), len(fx.Scribes), len(fx.Exams), *fixturePath)

	s := &seeder{
		client:   &http.Client{Timeout: 10 * time.Second},
		api:      *apiURL,
		token:    *token,
		clientID: *clientID,
		dryRun:   *dryRun,
	}
	// exams reference students, so students go first
	s.putAll("students", fx.Students)
	s.putAll("scribes", fx.Scribes)
	s.putAll("exams", fx.Exams)

	log.Printf("done: %d stored, %d failed", s.created, s.failed)
	if s.failed > 0 {
		os.Exit(1)
	}
}

func (s *seeder) putAll(kind string, records []json.RawMessage) {
	for _, raw := range records {
		var head struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &head); err != nil || head.ID == "" {
			log.Printf("skip %s record without id", kind)
			s.failed++
			continue
		}
		if s.dryRun {
			fmt.Printf("PUT /api/v1/admin/%s/%s\n", kind, head.ID)
			continue
		}
		if err := s.put(kind, head.ID, raw); err != nil {
			log.Printf("skip %s %s: %v", kind, head.ID, err)
			s.failed++
			continue
		}
		s.created++
	}
}

func (s *seeder) put(kind, id string, body []byte) error {
	endpoint := fmt.Sprintf("%s/api/v1/admin/%s/%s", s.api, kind, url.PathEscape(id))
	req, err := http.NewRequest(http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-ID", s.clientID)
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("status %d: %s", resp.StatusCode, e.Error)
	}
	return nil
}
