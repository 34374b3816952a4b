package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

var baseURL = "http://localhost:8080"

type askResponse struct {
	ConversationID string `json:"conversation_id"`
	Prompt         string `json:"prompt"`
	Response       string `json:"response"`
	Title          string `json:"title"`
}

func main() {
	if u := os.Getenv("COPILOT_URL"); u != "" {
		baseURL = u
	}

	// Wait for server to start
	time.Sleep(2 * time.Second)

	fmt.Println("Starting Integration Test...")

	fmt.Println("1. Health check...")
	if _, ok := sendRequest(http.MethodGet, "/healthz", nil, http.StatusOK); !ok {
		fmt.Println("FAILED: Health check")
		os.Exit(1)
	}
	fmt.Println("PASSED: Health check")

	conversationID := fmt.Sprintf("smoke-%d", time.Now().Unix())
	turns := []string{
		"The disk on my node is full. What should I check first?",
		"df shows /var at 98%. What next?",
	}
	for i, q := range turns {
		fmt.Printf("%d. Asking: %s\n", i+2, q)
		body, ok := sendRequest(http.MethodPost, "/api/tsg_copilot", map[string]string{
			"conversation_id": conversationID,
			"query":           q,
		}, http.StatusOK)
		if !ok {
			fmt.Println("FAILED: Ask")
			os.Exit(1)
		}
		var resp askResponse
		if err := json.Unmarshal(body, &resp); err != nil || resp.ConversationID != conversationID {
			fmt.Printf("FAILED: unexpected response %s\n", string(body))
			os.Exit(1)
		}
		fmt.Printf("PASSED: Ask (prompt=%q, title=%q)\n", resp.Prompt, resp.Title)
	}

	fmt.Println("4. Ending conversation...")
	if _, ok := sendRequest(http.MethodDelete, "/api/tsg_copilot/"+conversationID, nil, http.StatusNoContent); !ok {
		fmt.Println("FAILED: End conversation")
		os.Exit(1)
	}
	fmt.Println("PASSED: End conversation")
}

func sendRequest(method, endpoint string, payload interface{}, want int) ([]byte, bool) {
	var body io.Reader
	if payload != nil {
		jsonBytes, _ := json.Marshal(payload)
		body = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequest(method, baseURL+endpoint, body)
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		return nil, false
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		return nil, false
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		fmt.Printf("Request failed with status %d: %s\n", resp.StatusCode, string(respBody))
		return nil, false
	}
	fmt.Printf("Response: %s\n", string(respBody))
	return respBody, true
}
