package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// robotsim pretends to be one laundry robot: it registers against the
// control server, heartbeats with real host stats, reports beacon
// telemetry with random-walk RSSI, and answers the control server's
// line-following and turn-around commands.

type simBeacon struct {
	mac  string
	name string
	room string
	rssi int
}

type heartbeatPayload struct {
	Name          string  `json:"name"`
	IP            string  `json:"ip"`
	UptimeSeconds uint64  `json:"uptime_seconds"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	CPUPercent    float64 `json:"cpu_percent"`
}

type beaconReport struct {
	MACAddress  string `json:"mac_address"`
	BeaconName  string `json:"beacon_name"`
	RoomName    string `json:"room_name"`
	RSSI        int    `json:"rssi"`
	InRangeRSSI int    `json:"in_range_rssi"`
}

type telemetryPayload struct {
	Name    string         `json:"name"`
	Beacons []beaconReport `json:"beacons"`
}

func main() {
	serverURL := flag.String("server", "http://localhost:8081", "Control server base URL")
	name := flag.String("name", "sim-robot-1", "Robot name")
	listenPort := flag.Int("listen-port", 5000, "Port for the robot command endpoint")
	ip := flag.String("ip", "127.0.0.1", "IP to report to the control server")
	rooms := flag.String("rooms", "Base,Room-101,Room-102", "Comma separated rooms with one simulated beacon each")
	interval := flag.Duration("interval", 2*time.Second, "Telemetry and heartbeat interval")
	inRangeRSSI := flag.Int("in-range-rssi", -70, "RSSI threshold reported as in-range")
	flag.Parse()

	beacons := make([]*simBeacon, 0)
	for i, room := range strings.Split(*rooms, ",") {
		room = strings.TrimSpace(room)
		if room == "" {
			continue
		}
		beacons = append(beacons, &simBeacon{
			mac:  fmt.Sprintf("aa:bb:cc:dd:ee:%02x", i),
			name: fmt.Sprintf("beacon-%d", i),
			room: room,
			rssi: -90,
		})
	}
	if len(beacons) == 0 {
		log.Fatal("at least one room is required")
	}

	client := &http.Client{Timeout: 5 * time.Second}

	// following flips when the control server commands us; the sim walks
	// toward a random non-base room while following, back toward base
	// otherwise.
	var following atomic.Bool

	mux := http.NewServeMux()
	mux.HandleFunc("/start-line-follow", func(w http.ResponseWriter, r *http.Request) {
		following.Store(true)
		log.Printf("command: start line follow")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/stop-line-follow", func(w http.ResponseWriter, r *http.Request) {
		following.Store(false)
		log.Printf("command: stop line follow")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/turn-around", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("command: turn around")
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		addr := fmt.Sprintf(":%d", *listenPort)
		log.Printf("robot command endpoint listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatalf("command endpoint failed: %v", err)
		}
	}()

	if err := postJSON(client, *serverURL+"/api/robots/register", map[string]string{
		"name": *name,
		"ip":   *ip,
	}); err != nil {
		log.Fatalf("registration failed: %v", err)
	}
	log.Printf("registered as %s", *name)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	// Index of the beacon the robot is currently "near".
	target := 0

	for {
		select {
		case <-sigChan:
			log.Printf("shutting down")
			return
		case <-ticker.C:
			if following.Load() && len(beacons) > 1 {
				target = 1 + rand.Intn(len(beacons)-1)
			} else {
				target = 0 // drift back toward base
			}

			reports := make([]beaconReport, 0, len(beacons))
			for i, b := range beacons {
				if i == target {
					b.rssi = walk(b.rssi, -55, 4)
				} else {
					b.rssi = walk(b.rssi, -90, 4)
				}
				reports = append(reports, beaconReport{
					MACAddress:  b.mac,
					BeaconName:  b.name,
					RoomName:    b.room,
					RSSI:        b.rssi,
					InRangeRSSI: *inRangeRSSI,
				})
			}

			if err := postJSON(client, *serverURL+"/api/robots/heartbeat", collectHeartbeat(*name, *ip)); err != nil {
				log.Printf("heartbeat failed: %v", err)
			}
			if err := postJSON(client, *serverURL+"/api/robots/telemetry", telemetryPayload{
				Name:    *name,
				Beacons: reports,
			}); err != nil {
				log.Printf("telemetry failed: %v", err)
			}
		}
	}
}

// collectHeartbeat samples real host stats so the fleet listing shows
// something truthful even from a simulator.
func collectHeartbeat(name, ip string) heartbeatPayload {
	payload := heartbeatPayload{Name: name, IP: ip}

	if uptime, err := host.Uptime(); err == nil {
		payload.UptimeSeconds = uptime
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		payload.MemoryUsedMB = vm.Used / (1024 * 1024)
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		payload.CPUPercent = percents[0]
	}

	return payload
}

// walk nudges an RSSI value toward a goal with jitter.
func walk(current, goal, jitter int) int {
	step := 0
	if current < goal {
		step = 3
	} else if current > goal {
		step = -3
	}
	return current + step + rand.Intn(2*jitter+1) - jitter
}

func postJSON(client *http.Client, url string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("server responded %s", resp.Status)
	}
	return nil
}
