// Relay bridges a serial-attached RFID reader to the API. It forwards every
// raw line as-is; normalization and debounce run server-side in the gateway
// so network submissions and serial readings follow one path.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.bug.st/serial"

	"rfidattend/internal/config"
)

func main() {
	cfg := config.Load()

	client := &http.Client{Timeout: 5 * time.Second}

	token, err := register(client, cfg.APIURL, cfg.DeviceID)
	if err != nil {
		log.Fatalf("device registration failed: %v", err)
	}
	log.Printf("registered as %s", cfg.DeviceID)

	mode := &serial.Mode{BaudRate: cfg.SerialBaud}
	port, err := serial.Open(cfg.SerialPort, mode)
	if err != nil {
		log.Fatalf("open %s: %v", cfg.SerialPort, err)
	}
	log.Printf("connected to reader on %s (%d baud)", cfg.SerialPort, cfg.SerialBaud)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutting down relay...")
		_ = port.Close()
	}()

	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if err := submit(client, cfg.APIURL, token, line); err != nil {
			log.Printf("submit failed: %v", err)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("reader stream closed: %v", err)
	}
	log.Println("relay stopped")
}

func register(client *http.Client, apiURL, deviceID string) (string, error) {
	body, _ := json.Marshal(map[string]string{"device_id": deviceID})
	resp, err := client.Post(apiURL+"/v1/devices/register", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

func submit(client *http.Client, apiURL, token, line string) error {
	body, _ := json.Marshal(map[string]string{"tagId": line})
	req, err := http.NewRequest(http.MethodPost, apiURL+"/v1/scans", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var outcome struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&outcome); err == nil {
			log.Printf("%s: %s", outcome.Status, outcome.Message)
		}
	case http.StatusNoContent:
		// Debounced repeat or non-tag telemetry.
	case http.StatusNotFound:
		log.Printf("unregistered card")
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
