package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/hrmon/inspector"
	"github.com/srg/hrmon/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect <device-address>",
	Short: "Inspect services, characteristics, and descriptors of a BLE device",
	Long: `Connects to a BLE device by address and discovers its services,
characteristics, and descriptors. Attempts to read characteristic values when possible.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var (
	inspectConnectTimeout        time.Duration
	inspectDescriptorReadTimeout time.Duration
	inspectJSON                  bool
	inspectReadLimit             int
	inspectReadTimeout           time.Duration
)

func init() {
	inspectCmd.Flags().DurationVar(&inspectConnectTimeout, "connect-timeout", 30*time.Second, "Connection timeout")
	inspectCmd.Flags().DurationVar(&inspectDescriptorReadTimeout, "descriptor-timeout", 2*time.Second, "Timeout for reading descriptor values (negative to skip descriptor reads)")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Output as JSON")
	inspectCmd.Flags().IntVar(&inspectReadLimit, "read-limit", 64, "Max bytes to display from readable characteristics (0 to disable reads)")
	inspectCmd.Flags().DurationVar(&inspectReadTimeout, "read-timeout", 2*time.Second, "Timeout for reading characteristic values")
	inspectCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
}

// characteristicReport is one characteristic in the inspection output.
type characteristicReport struct {
	UUID        string             `json:"uuid"`
	Name        string             `json:"name,omitempty"`
	Properties  []string           `json:"properties"`
	Value       string             `json:"value,omitempty"` // hex, truncated to read-limit
	Parsed      interface{}        `json:"parsed,omitempty"`
	Descriptors []descriptorReport `json:"descriptors,omitempty"`
}

type descriptorReport struct {
	UUID   string      `json:"uuid"`
	Name   string      `json:"name,omitempty"`
	Value  string      `json:"value,omitempty"` // hex
	Parsed interface{} `json:"parsed,omitempty"`
}

type serviceReport struct {
	UUID            string                 `json:"uuid"`
	Name            string                 `json:"name,omitempty"`
	Characteristics []characteristicReport `json:"characteristics"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	address := args[0]

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	opts := &inspector.InspectOptions{
		ConnectTimeout:        inspectConnectTimeout,
		DescriptorReadTimeout: inspectDescriptorReadTimeout,
	}

	// Use background context; per-command timeout is applied inside the inspector
	ctx := context.Background()

	// Setup progress printer
	progress := NewProgressPrinter(fmt.Sprintf("Inspecting device %s", address), "Connecting", "Processing results")
	progress.Start()
	defer progress.Stop()

	report, err := inspector.InspectDevice(ctx, address, opts, logger, progress.Callback(), buildInspectReport)
	if err != nil {
		return err
	}

	progress.Stop()

	if inspectJSON {
		return displayInspectJSON(report)
	}
	return displayInspectTable(report)
}

// buildInspectReport walks the discovered GATT profile into an ordered
// report: services in discovery order, characteristics in declaration order.
func buildInspectReport(dev device.Device) (*orderedmap.OrderedMap[string, serviceReport], error) {
	conn := dev.GetConnection()
	if conn == nil {
		return nil, fmt.Errorf("device not connected")
	}

	report := orderedmap.New[string, serviceReport]()

	for _, svc := range conn.Services() {
		sr := serviceReport{
			UUID: svc.UUID(),
			Name: svc.KnownName(),
		}

		for _, char := range svc.GetCharacteristics() {
			cr := characteristicReport{
				UUID:       char.UUID(),
				Name:       char.KnownName(),
				Properties: propertyNames(char.GetProperties()),
			}

			if inspectReadLimit > 0 && isReadable(char) {
				if data, err := char.Read(inspectReadTimeout); err == nil {
					display := data
					if len(display) > inspectReadLimit {
						display = display[:inspectReadLimit]
					}
					cr.Value = hex.EncodeToString(display)
					if parsed, err := device.ParseCharacteristicValue(char.UUID(), data); err == nil && parsed != nil {
						cr.Parsed = parsed
					}
				}
			}

			for _, desc := range char.GetDescriptors() {
				dr := descriptorReport{
					UUID: desc.UUID(),
					Name: desc.KnownName(),
				}
				if v := desc.Value(); v != nil {
					dr.Value = hex.EncodeToString(v)
				}
				if p := desc.ParsedValue(); p != nil {
					dr.Parsed = p
				}
				cr.Descriptors = append(cr.Descriptors, dr)
			}

			sr.Characteristics = append(sr.Characteristics, cr)
		}

		report.Set(sr.UUID, sr)
	}

	return report, nil
}

// propertyNames renders the set properties as their known names.
func propertyNames(props device.Properties) []string {
	if props == nil {
		return nil
	}
	var names []string
	for _, p := range []device.Property{
		props.Broadcast(),
		props.Read(),
		props.Write(),
		props.WriteWithoutResponse(),
		props.Notify(),
		props.Indicate(),
		props.AuthenticatedSignedWrites(),
		props.ExtendedProperties(),
	} {
		if p != nil {
			names = append(names, p.KnownName())
		}
	}
	return names
}

func isReadable(char device.Characteristic) bool {
	props := char.GetProperties()
	return props != nil && props.Read() != nil
}

func displayInspectJSON(report *orderedmap.OrderedMap[string, serviceReport]) error {
	services := make([]serviceReport, 0, report.Len())
	for pair := report.Oldest(); pair != nil; pair = pair.Next() {
		services = append(services, pair.Value)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(services)
}

func displayInspectTable(report *orderedmap.OrderedMap[string, serviceReport]) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	for pair := report.Oldest(); pair != nil; pair = pair.Next() {
		svc := pair.Value
		fmt.Fprintf(w, "service %s\t%s\n", svc.UUID, svc.Name)

		for _, char := range svc.Characteristics {
			value := char.Value
			if char.Parsed != nil {
				value = fmt.Sprintf("%s (%v)", value, char.Parsed)
			}
			fmt.Fprintf(w, "  char %s\t%s\t[%s]\t%s\n",
				char.UUID, char.Name, strings.Join(char.Properties, ","), value)

			for _, desc := range char.Descriptors {
				value := desc.Value
				if desc.Parsed != nil {
					value = fmt.Sprintf("%s (%v)", value, desc.Parsed)
				}
				fmt.Fprintf(w, "    desc %s\t%s\t\t%s\n", desc.UUID, desc.Name, value)
			}
		}
	}

	return w.Flush()
}
