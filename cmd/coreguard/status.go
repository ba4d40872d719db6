package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pristine-labs/coreguard/internal/membrane"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show governance system health and channel states",
	Long: `Run one homeostasis pass and print the resulting metrics together with
the permeability channel table.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runStatus(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus() error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	controller := membrane.NewController(&membrane.Config{
		TickInterval:   cfg.HomeostasisInterval(),
		TransportRate:  cfg.TransportRate,
		TransportBurst: cfg.TransportBurst,
	})
	metrics := controller.MaintainHomeostasis()

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	fmt.Println(bold("Homeostasis"))
	fmt.Printf("  stability:   %.2f\n", metrics.PH)
	fmt.Printf("  load heat:   %.1f\n", metrics.Temperature)
	fmt.Printf("  pressure:    %.2f\n", metrics.Pressure)

	fmt.Println(bold("Channels"))
	for _, ch := range controller.Channels() {
		state := green("open")
		if !ch.IsOpen {
			state = red("closed")
		}
		fmt.Printf("  %-10s %-6s conductance=%.2f", ch.Type, state, ch.Conductance)
		if ch.GateVoltage > 0 {
			fmt.Printf(" gate=%.2f", ch.GateVoltage)
		}
		fmt.Println()
	}
	return nil
}
