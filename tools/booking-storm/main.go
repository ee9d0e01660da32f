// booking-storm fires N concurrent booking requests at the same slot and
// reports how many won. Against a correctly configured deployment exactly one
// request returns 201 and the rest return 409.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

func main() {
	var (
		baseURL = flag.String("base-url", getenv("BASE_URL", "http://localhost:8084"), "scheduling service base url")
		date    = flag.String("date", time.Now().UTC().AddDate(0, 0, 1).Format(time.DateOnly), "appointment date (YYYY-MM-DD)")
		start   = flag.String("start", "10:00", "slot start (HH:MM)")
		end     = flag.String("end", "10:30", "slot end (HH:MM)")
		title   = flag.String("title", "storm test", "appointment title")
		n       = flag.Int("n", 32, "number of concurrent requests")
	)
	flag.Parse()

	url := strings.TrimRight(*baseURL, "/") + "/api/v1/appointments"
	client := &http.Client{Timeout: 10 * time.Second}

	codes := make([]int, *n)
	var wg sync.WaitGroup
	for i := 0; i < *n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload, _ := json.Marshal(map[string]string{
				"patient_id": fmt.Sprintf("storm-%d", i),
				"title":      *title,
				"date":       *date,
				"start_time": *start,
				"end_time":   *end,
			})
			resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
			if err != nil {
				codes[i] = -1
				return
			}
			defer resp.Body.Close()
			codes[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	byCode := map[int]int{}
	for _, c := range codes {
		byCode[c]++
	}
	for code, count := range byCode {
		fmt.Printf("status=%d count=%d\n", code, count)
	}
	if byCode[http.StatusCreated] != 1 {
		fmt.Println("FAIL: expected exactly one 201")
		os.Exit(1)
	}
	fmt.Println("OK: exactly one booking won")
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
