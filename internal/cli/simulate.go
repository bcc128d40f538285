package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"spacewatch/internal/app"
)

var (
	simulateKp   float64
	simulateFlux float64
	simulateCME  time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一组空间天气读数并触发告警评估",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateKp < 0 || simulateKp > 9 {
			return errors.New("--kp 必须在 0 到 9 之间")
		}
		if simulateFlux < 0 {
			return errors.New("--flux 不能为负数")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Kp:        simulateKp,
			XRayFlux:  simulateFlux,
			CMEArrive: simulateCME,
		})
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateKp, "kp", 0, "行星 Kp 指数")
	simulateCmd.Flags().Float64Var(&simulateFlux, "flux", 0, "GOES 0.1-0.8nm X 射线通量 (W/m²)")
	simulateCmd.Flags().DurationVar(&simulateCME, "cme-arrival", 0, "若大于 0，附加一个预计在该时长后抵达地球的 CME")
}
