/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cityduel",
	Short: "Telegram bot for 1-on-1 city-chain duels",
	Long:  "CityDuel runs a Telegram bot where two players take turns naming cities, plus a web leaderboard.",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
