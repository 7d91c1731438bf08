package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/iliyamo/hub-lending/internal/access"
	"github.com/iliyamo/hub-lending/internal/coordinator"
	"github.com/iliyamo/hub-lending/internal/model"
	"github.com/iliyamo/hub-lending/internal/repository"
)

// Manifest describes a batch of donated stock, grouped by hub.
//
//	hubs:
//	  - name: Central
//	    address: 1 Market St
//	    items:
//	      - name: Ladder
//	        category: tools
//	        condition: good
//	        quantity: 2
type Manifest struct {
	Hubs []ManifestHub `yaml:"hubs"`
}

// ManifestHub is one hub in a manifest.  Unknown hubs are created.
type ManifestHub struct {
	Name    string         `yaml:"name"`
	Address string         `yaml:"address"`
	Items   []ManifestItem `yaml:"items"`
}

// ManifestItem is one donated item variant.
type ManifestItem struct {
	Name      string `yaml:"name"`
	Category  string `yaml:"category"`
	Condition string `yaml:"condition"`
	Quantity  int    `yaml:"quantity"`
}

// ParseManifest decodes and validates a manifest.  Unknown keys are
// rejected so a typo does not silently drop stock.
func ParseManifest(r io.Reader) (*Manifest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate reports every problem in the manifest at once.
func (m *Manifest) Validate() error {
	var problems []error
	if len(m.Hubs) == 0 {
		problems = append(problems, errors.New("manifest lists no hubs"))
	}
	for i, h := range m.Hubs {
		if strings.TrimSpace(h.Name) == "" {
			problems = append(problems, fmt.Errorf("hubs[%d]: name is required", i))
		}
		for j, it := range h.Items {
			at := fmt.Sprintf("hubs[%d].items[%d]", i, j)
			if strings.TrimSpace(it.Name) == "" {
				problems = append(problems, fmt.Errorf("%s: name is required", at))
			}
			if it.Quantity < 1 {
				problems = append(problems, fmt.Errorf("%s: quantity must be positive", at))
			}
			if it.Condition != "" && !model.ValidCondition(it.Condition) {
				problems = append(problems, fmt.Errorf("%s: unknown condition %q", at, it.Condition))
			}
		}
	}
	return errors.Join(problems...)
}

// DonateOptions holds flags for the donate command.
type DonateOptions struct {
	*RootOptions
	File string
}

// DonateSummary reports what a manifest added.
type DonateSummary struct {
	HubsCreated int
	Items       int
	Units       int
}

// NewDonateCommand creates the donate command.
func NewDonateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DonateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "donate",
		Short: "Take in donated stock from a YAML manifest",
		Long: `Take in donated stock listed in a YAML manifest.  Hubs are matched by
name and created when missing.  An item named like an existing variant
of the hub adds to its quantity; anything else becomes a new variant.

Example:
  hublend donate --file donations.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDonate(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "path to the manifest (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runDonate(ctx context.Context, opts *DonateOptions, out io.Writer) error {
	f, err := os.Open(opts.File)
	if err != nil {
		return err
	}
	defer f.Close()
	m, err := ParseManifest(f)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	sum, err := applyManifest(ctx, a.hubs, a.coord, m, a.log)
	fmt.Fprintf(out, "hubs created: %d, items: %d, units: %d\n", sum.HubsCreated, sum.Items, sum.Units)
	return err
}

// applyManifest donates every item as the system actor.  It stops at the
// first failure; items already taken in stay committed.
func applyManifest(ctx context.Context, hubs *repository.HubRepo, coord *coordinator.Coordinator, m *Manifest, log *zap.Logger) (DonateSummary, error) {
	var sum DonateSummary
	for _, mh := range m.Hubs {
		hub, err := hubs.GetByName(ctx, mh.Name)
		if errors.Is(err, repository.ErrNotFound) {
			hub = &model.Hub{Name: mh.Name, Address: mh.Address, IsActive: true}
			if err = hubs.Create(ctx, hub, coord.Clock().Now()); err == nil {
				sum.HubsCreated++
				log.Info("hub created", zap.Uint64("hub_id", hub.ID), zap.String("name", hub.Name))
			}
		}
		if err != nil {
			return sum, fmt.Errorf("hub %q: %w", mh.Name, err)
		}
		for _, it := range mh.Items {
			if it.Condition == "" {
				it.Condition = model.ConditionGood
			}
			item, err := coord.Donate(ctx, access.System, coordinator.NewItem{
				HubID:     hub.ID,
				Name:      it.Name,
				Category:  it.Category,
				Condition: it.Condition,
				Quantity:  it.Quantity,
			})
			if err != nil {
				return sum, fmt.Errorf("hub %q item %q: %w", mh.Name, it.Name, err)
			}
			sum.Items++
			sum.Units += it.Quantity
			log.Debug("donation recorded",
				zap.Uint64("item_variant_id", item.ID),
				zap.Int("quantity", it.Quantity),
				zap.Int("quantity_total", item.QuantityTotal))
		}
	}
	return sum, nil
}
