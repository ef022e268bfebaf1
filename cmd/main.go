package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/techtorio/smsrelay/cmd/sendtest"
	"github.com/techtorio/smsrelay/cmd/serve"
	"github.com/techtorio/smsrelay/config"
	"github.com/techtorio/smsrelay/pkg/process"
)

var rootCmd = &cobra.Command{
	Use: "smsrelay",
}

func init() {
	godotenv.Load()
	config.Init()

	rootCmd.AddCommand(serve.ServeCmd)
	rootCmd.AddCommand(sendtest.SendTestCmd)
}

func main() {
	ctx, cancel, wait := process.GetRootContext()
	rootCmd.ExecuteContext(ctx)
	cancel()

	wait()
}
