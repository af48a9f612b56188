package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/mwrona/go-smax/client"
	"github.com/mwrona/go-smax/configuration"
	"github.com/mwrona/go-smax/entity"
	"github.com/mwrona/go-smax/logging"
	"github.com/mwrona/go-smax/logo"
	"github.com/mwrona/go-smax/stdoutwriter"
	"github.com/mwrona/go-smax/telemetry"
	"github.com/mwrona/go-smax/zincadapter"
)

const usage = `SMAX CLI tool queries and manipulates entities of an OpenText SMAX tenant through its REST API.
Credentials are read from the yaml configuration and can be overridden with SMAX_USERNAME and SMAX_PASSWORD
environment variables or an .env file.`

func main() {
	logo.Display()

	var (
		file       string
		entityType string
		entityID   string
		payload    string
	)

	configurator := func() (configuration.Configuration, error) {
		if file == "" {
			return configuration.Configuration{}, errors.New("please specify configuration file path with -c <path to file>")
		}

		cfg, err := configuration.Read(file)
		if err != nil {
			return cfg, err
		}

		godotenv.Load()
		if v := os.Getenv("SMAX_USERNAME"); v != "" {
			cfg.Client.Username = v
		}
		if v := os.Getenv("SMAX_PASSWORD"); v != "" {
			cfg.Client.Password = v
		}

		return cfg, nil
	}

	spec := client.QuerySpec{}

	app := &cli.App{
		Name:  "smax",
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Load configuration from `FILE`",
				Destination: &file,
			},
			&cli.StringFlag{
				Name:        "type",
				Aliases:     []string{"t"},
				Usage:       "Entity type, for example Request",
				Destination: &entityType,
			},
			&cli.StringFlag{
				Name:        "id",
				Usage:       "Entity id",
				Destination: &entityID,
			},
			&cli.StringFlag{
				Name:        "json",
				Aliases:     []string{"j"},
				Usage:       "JSON array of entities for create and update",
				Destination: &payload,
			},
			&cli.StringFlag{Name: "filter", Usage: "Query filter expression", Destination: &spec.Filter},
			&cli.StringFlag{Name: "layout", Usage: "Comma separated properties to return", Destination: &spec.Layout},
			&cli.StringFlag{Name: "group", Usage: "Grouping expression for aggregations", Destination: &spec.Group},
			&cli.StringFlag{Name: "order", Usage: "Ordering expression", Destination: &spec.Order},
			&cli.IntFlag{Name: "size", Usage: "Page size", Destination: &spec.Size},
			&cli.IntFlag{Name: "skip", Usage: "Offset into the result set", Destination: &spec.Skip},
		},
		Commands: []*cli.Command{
			{
				Name:    "query",
				Aliases: []string{"q"},
				Usage:   "Queries entities of the given type with optional filters.",
				Action: func(_ *cli.Context) error {
					return run(configurator, func(c *client.Client) (any, error) {
						return c.QueryEntities(entityType, spec)
					})
				},
			},
			{
				Name:    "get",
				Aliases: []string{"g"},
				Usage:   "Retrieves a single entity by id.",
				Action: func(_ *cli.Context) error {
					return run(configurator, func(c *client.Client) (any, error) {
						return c.GetEntity(entityType, entityID, spec.Layout)
					})
				},
			},
			{
				Name:    "aggregate",
				Aliases: []string{"a"},
				Usage:   "Retrieves aggregated data for entities of the given type.",
				Action: func(_ *cli.Context) error {
					return run(configurator, func(c *client.Client) (any, error) {
						return c.GetAggregatedData(entityType, spec)
					})
				},
			},
			{
				Name:    "create",
				Aliases: []string{"n"},
				Usage:   "Creates entities from the JSON payload.",
				Action: func(_ *cli.Context) error {
					entities, err := decodeEntities(payload)
					if err != nil {
						return err
					}
					return run(configurator, func(c *client.Client) (any, error) {
						return c.CreateEntities(entities)
					})
				},
			},
			{
				Name:    "update",
				Aliases: []string{"u"},
				Usage:   "Updates entities from the JSON payload.",
				Action: func(_ *cli.Context) error {
					entities, err := decodeEntities(payload)
					if err != nil {
						return err
					}
					return run(configurator, func(c *client.Client) (any, error) {
						return c.UpdateEntities(entities)
					})
				},
			},
			{
				Name:    "delete",
				Aliases: []string{"d"},
				Usage:   "Deletes a single entity by id.",
				Action: func(_ *cli.Context) error {
					return run(configurator, func(c *client.Client) (any, error) {
						return nil, c.DeleteEntity(entityType, entityID)
					})
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		pterm.Error.Println(err.Error())
	}
}

func decodeEntities(payload string) ([]entity.Entity, error) {
	if payload == "" {
		return nil, errors.New("please provide entities with -j '<json array>'")
	}
	var entities []entity.Entity
	if err := json.Unmarshal([]byte(payload), &entities); err != nil {
		return nil, fmt.Errorf("cannot decode entities payload: %w", err)
	}
	return entities, nil
}

func run(configurator func() (configuration.Configuration, error), call func(c *client.Client) (any, error)) error {
	cfg, err := configurator()
	if err != nil {
		return err
	}

	callbackOnErr := func(err error) {
		fmt.Println("error with logger: ", err)
	}

	writers := []io.Writer{stdoutwriter.Logger{}}
	if cfg.ZincLogger.Address != "" {
		zinc, err := zincadapter.New(cfg.ZincLogger)
		if err != nil {
			return err
		}
		writers = append(writers, &zinc)
	}

	log := logging.New(callbackOnErr, writers...)

	c, err := client.NewClient(cfg.Client, log)
	if err != nil {
		return err
	}
	defer c.Close()

	if cfg.TelemetryPort > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		m, err := telemetry.Run(ctx, cancel, cfg.TelemetryPort)
		if err != nil {
			return err
		}
		c.AttachTelemetry(m)
	}

	res, err := call(c)
	if err != nil {
		return err
	}
	if res == nil {
		pterm.Info.Println("OK")
		return nil
	}

	raw, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
