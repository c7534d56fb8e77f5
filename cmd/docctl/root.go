package main

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	baseURL string
	guestID string
	token   string
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:           "docctl",
	Short:         "Upload documents and follow their extraction status",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			color.NoColor = true
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "api", envOr("DOCPARSE_API_URL", "http://localhost:8080"), "API base URL")
	rootCmd.PersistentFlags().StringVar(&guestID, "guest", os.Getenv("DOCPARSE_GUEST_ID"), "guest id sent as X-Guest-Id")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("DOCPARSE_TOKEN"), "bearer token")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

func authHeader() http.Header {
	h := http.Header{}
	if strings.TrimSpace(token) != "" {
		h.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}
	if strings.TrimSpace(guestID) != "" {
		h.Set("X-Guest-Id", strings.TrimSpace(guestID))
	}
	return h
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
