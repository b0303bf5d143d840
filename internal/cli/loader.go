package cli

import (
	"log/slog"

	"github.com/tolliver/veil/internal/budget"
	"github.com/tolliver/veil/internal/dataset"
	"github.com/tolliver/veil/internal/engine"
	"github.com/tolliver/veil/internal/orchestrator"
	"github.com/tolliver/veil/internal/policy"
	"github.com/tolliver/veil/internal/schema"
	"github.com/tolliver/veil/internal/store"
)

// Env is the assembled runtime for commands that execute queries: the
// approved schema, the policy, the engine store and the dataset.
type Env struct {
	Schema  *schema.Schema
	Policy  policy.Policy
	Store   *store.Store
	Dataset *dataset.Dataset
	Orch    *orchestrator.Orchestrator
}

// Close releases the database handles.
func (e *Env) Close() {
	if e.Dataset != nil {
		if err := e.Dataset.Close(); err != nil {
			slog.Error("error closing dataset", "error", err)
		}
	}
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			slog.Error("error closing store", "error", err)
		}
	}
}

// loadSchema loads the approved schema from the --schema directory.
func loadSchema(opts *RootOptions) (*schema.Schema, error) {
	if opts.SchemaDir == "" {
		return nil, NewExitError(ExitCommandError, "--schema directory is required")
	}
	sch, err := schema.LoadDir(opts.SchemaDir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load schema", err)
	}
	return sch, nil
}

// loadPolicy loads the policy file, or the documented defaults when the
// flag is unset.
func loadPolicy(opts *RootOptions) (policy.Policy, error) {
	if opts.PolicyFile == "" {
		return policy.Default(), nil
	}
	pol, err := policy.Load(opts.PolicyFile)
	if err != nil {
		return policy.Policy{}, WrapExitError(ExitCommandError, "failed to load policy", err)
	}
	return pol, nil
}

// openEnv assembles the full pipeline: schema, policy, store, dataset,
// engine and orchestrator. storePath and datasetPath are the two SQLite
// databases; datasetName scopes budget accounting.
func openEnv(opts *RootOptions, storePath, datasetPath, datasetName string) (*Env, error) {
	sch, err := loadSchema(opts)
	if err != nil {
		return nil, err
	}
	pol, err := loadPolicy(opts)
	if err != nil {
		return nil, err
	}

	slog.Info("opening store", "path", storePath)
	st, err := store.Open(storePath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}

	slog.Info("opening dataset", "path", datasetPath)
	ds, err := dataset.Open(datasetPath)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open dataset", err)
	}

	noiser, err := engine.NewNoiser(pol.Noise)
	if err != nil {
		ds.Close()
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to configure noise", err)
	}

	accountant := budget.New(st, pol.MaxEpsilon)
	eng := engine.New(ds, noiser, pol)
	orch := orchestrator.New(sch, accountant, eng, st, datasetName, slog.Default())

	return &Env{
		Schema:  sch,
		Policy:  pol,
		Store:   st,
		Dataset: ds,
		Orch:    orch,
	}, nil
}
