package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"papertrail/internal/app"
	"papertrail/internal/domain"
	"papertrail/internal/server"
)

// Manual smoke check: boot a throwaway workspace with the default config
// and push one submission through the HTTP path.
func main() {
	appCtx, err := app.OpenWorkspace("/tmp/papertrail-check")
	if err != nil {
		panic(err)
	}
	defer appCtx.Close()

	jwtSecret := "test-secret"
	h, err := server.New(server.Config{
		Engine:   appCtx.Engine,
		Repo:     appCtx.Repo,
		BasePath: "/v0",
		Auth:     server.AuthConfig{JWTSecret: jwtSecret},
	})
	if err != nil {
		panic(err)
	}
	ts := httptest.NewServer(h)
	defer ts.Close()

	agent, err := domain.NewAgent(domain.AgentUser, "tester")
	if err != nil {
		panic(err)
	}
	token, err := server.SignToken(jwtSecret, agent, nil, time.Hour)
	if err != nil {
		panic(err)
	}

	body := map[string]any{
		"events": []map[string]any{
			{"event_type": "submission.create"},
			{"event_type": "submitter.verify_contact"},
		},
	}
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v0/submissions", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		panic(err)
	}
	defer res.Body.Close()
	var resp any
	_ = json.NewDecoder(res.Body).Decode(&resp)
	fmt.Printf("status=%d resp=%v\n", res.StatusCode, resp)
}
