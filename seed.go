package main

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"projex/board"
	"projex/domain"
	"projex/storage"
)

// seedFile is the YAML layout accepted by the seed command.
type seedFile struct {
	Title   string       `yaml:"title"`
	Columns []seedColumn `yaml:"columns"`
}

type seedColumn struct {
	ID    string             `yaml:"id"`
	Title string             `yaml:"title"`
	Color string             `yaml:"color"`
	Tasks []domain.TaskDraft `yaml:"tasks"`
}

func seedCmd(configPath *string) *cobra.Command {
	var (
		projectID string
		file      string
		owner     string
		force     bool
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write a board from a YAML file into a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			f, err := readSeedFile(file)
			if err != nil {
				return err
			}
			b, err := buildBoard(projectID, f)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			logger := log.StandardLogger()
			be, err := openBackends(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer be.Close(context.Background())

			if err := seedProject(ctx, be.store, logger, b, owner, force); err != nil {
				return err
			}
			logger.WithFields(log.Fields{"project": projectID, "tasks": b.TaskCount()}).Info("board seeded")
			return nil
		},
	}
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "project id")
	cmd.Flags().StringVarP(&file, "file", "f", "", "board YAML file")
	cmd.Flags().StringVar(&owner, "owner", "", "owner recorded for a new project")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing board")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readSeedFile(path string) (seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return seedFile{}, err
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return seedFile{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return f, nil
}

// buildBoard turns f into a board for projectID. Without columns the default
// columns are used. Task ids are assigned in file order.
func buildBoard(projectID string, f seedFile) (domain.Board, error) {
	b := domain.DefaultBoard(projectID)
	if f.Title != "" {
		var err error
		if b, err = domain.RenameBoard(b, f.Title); err != nil {
			return domain.Board{}, err
		}
	}
	if len(f.Columns) == 0 {
		return b, nil
	}

	seen := make(map[string]bool, len(f.Columns))
	b.Columns = make([]domain.Column, 0, len(f.Columns))
	for _, c := range f.Columns {
		if c.ID == "" {
			return domain.Board{}, fmt.Errorf("column %q has no id", c.Title)
		}
		if seen[c.ID] {
			return domain.Board{}, fmt.Errorf("duplicate column %s", c.ID)
		}
		seen[c.ID] = true
		b.Columns = append(b.Columns, domain.Column{ID: c.ID, Title: c.Title, Color: c.Color, Tasks: []domain.Task{}})
	}
	for _, c := range f.Columns {
		for i, draft := range c.Tasks {
			var err error
			if b, _, err = domain.CreateTask(b, c.ID, draft); err != nil {
				return domain.Board{}, fmt.Errorf("column %s task %d: %w", c.ID, i+1, err)
			}
		}
	}
	return b, nil
}

// seedProject writes b and its title. Existing boards are only replaced when
// force is set.
func seedProject(ctx context.Context, store storage.Store, logger *log.Logger, b domain.Board, owner string, force bool) error {
	existing, err := store.Get(ctx, storage.TasksPath(b.ID))
	if err != nil {
		return err
	}
	if existing != nil && !force {
		return fmt.Errorf("project %s already has a board; use --force to replace it", b.ID)
	}

	syncer := board.NewSynchronizer(store, logger)
	if err := syncer.Initialize(ctx, b.ID, owner); err != nil {
		return fmt.Errorf("initialize project: %w", err)
	}
	if err := syncer.Persist(ctx, b); err != nil {
		return fmt.Errorf("write board: %w", err)
	}
	if err := syncer.PersistTitle(ctx, b.ID, b.Title); err != nil {
		return fmt.Errorf("write title: %w", err)
	}
	return nil
}
