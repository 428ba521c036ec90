package main

import (
	"fmt"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/mzhadan/chatforge/internal/core"
)

// program adapts the App to the system service manager's lifecycle.
type program struct {
	cfgPath string
	app     *core.App
}

func (p *program) Start(service.Service) error {
	app, err := loadApp(p.cfgPath)
	if err != nil {
		return err
	}
	if err := app.Start(); err != nil {
		return err
	}
	p.app = app
	return nil
}

func (p *program) Stop(service.Service) error {
	if p.app != nil {
		p.app.Stop()
	}
	return nil
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "service [install|uninstall|start|stop|restart|run]",
		Short:     "Run or manage chatforge as a system service",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"install", "uninstall", "start", "stop", "restart", "run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")

			svcConfig := &service.Config{
				Name:        "chatforge",
				DisplayName: "chatforge",
				Description: "Telegram forum chat provisioning assistant",
				Arguments:   []string{"service", "run"},
			}
			if cfgPath != "" {
				svcConfig.Arguments = append(svcConfig.Arguments, "--config", cfgPath)
			}

			prg := &program{cfgPath: cfgPath}
			svc, err := service.New(prg, svcConfig)
			if err != nil {
				return err
			}

			if args[0] == "run" {
				return svc.Run()
			}
			if err := service.Control(svc, args[0]); err != nil {
				return err
			}
			fmt.Printf("service %s: done\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	return cmd
}
