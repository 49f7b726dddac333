package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dreamware/tiaki/internal/api"
)

var (
	serverFlag string
	tokenFlag  string
	jsonFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "tiaki",
	Short: "Operator CLI for the tiaki coordination daemon",
	Long: `tiaki drives the coordination daemon over its HTTP API: acquiring and
releasing memory unit locks, writing versioned updates, inspecting
histories and conflicts, and managing the service registry.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverFlag, "server", "s", "", "Daemon base URL (default: $TIAKI_SERVER or http://127.0.0.1:8700)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "Bearer token (default: $TIAKI_TOKEN)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print raw JSON responses")
}

func serverAddr() string {
	if serverFlag != "" {
		return serverFlag
	}
	if env := os.Getenv("TIAKI_SERVER"); env != "" {
		return env
	}
	return "http://127.0.0.1:8700"
}

func bearerCredential() string {
	if tokenFlag != "" {
		return tokenFlag
	}
	return os.Getenv("TIAKI_TOKEN")
}

func newClient() *api.Client {
	return api.NewClient(serverAddr(), bearerCredential())
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
