package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dreamware/tiaki/internal/registry"
)

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the service registry",
}

// addFilterFlags attaches the discovery filter flags shared by the service
// read subcommands.
func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().String("type", "", "Service type filter")
	cmd.Flags().String("persona", "", "Persona filter")
	cmd.Flags().String("project", "", "Project hash filter")
	cmd.Flags().String("status", "", "Status filter: starting, healthy or unhealthy")
	cmd.Flags().StringSlice("tag", nil, "Tag filter, repeatable")
}

func filterFromFlags(cmd *cobra.Command) registry.Filter {
	serviceType, _ := cmd.Flags().GetString("type")
	persona, _ := cmd.Flags().GetString("persona")
	project, _ := cmd.Flags().GetString("project")
	status, _ := cmd.Flags().GetString("status")
	tags, _ := cmd.Flags().GetStringSlice("tag")
	return registry.Filter{
		Type:        registry.ServiceType(serviceType),
		Persona:     persona,
		ProjectHash: project,
		Status:      registry.Status(status),
		Tags:        tags,
	}
}

func printEndpoint(e registry.Endpoint) {
	fmt.Printf("%s  %s/%s  %s  %s  last seen %s\n",
		e.ID, e.Type, e.Name, e.Address(), e.Status, humanize.Time(e.LastSeen))
}

func init() {
	register := &cobra.Command{
		Use:   "register",
		Short: "Register a service instance",
		Run:   runServiceRegister,
	}
	register.Flags().String("type", "", "Service type: agent, memory, gateway, worker or monitor (required)")
	register.Flags().StringP("name", "n", "", "Instance name (required)")
	register.Flags().String("host", "", "Reachable host (required)")
	register.Flags().Int("port", 0, "Reachable port (required)")
	register.Flags().String("health-addr", "", "Health probe URL; empty means passive liveness")
	register.Flags().String("persona", "", "Persona the service acts for")
	register.Flags().String("project", "", "Project hash the service is bound to")
	register.Flags().StringSlice("tag", nil, "Discovery tag, repeatable")
	register.Flags().StringSlice("capability", nil, "Capability, repeatable")
	register.MarkFlagRequired("type")
	register.MarkFlagRequired("name")
	register.MarkFlagRequired("host")
	register.MarkFlagRequired("port")
	serviceCmd.AddCommand(register)

	unregister := &cobra.Command{
		Use:   "unregister",
		Short: "Remove a service instance",
		Run:   runServiceUnregister,
	}
	unregister.Flags().String("id", "", "Service ID (required)")
	unregister.MarkFlagRequired("id")
	serviceCmd.AddCommand(unregister)

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered services",
		Run:   runServiceList,
	}
	addFilterFlags(list)
	serviceCmd.AddCommand(list)

	get := &cobra.Command{
		Use:   "get",
		Short: "Show one service by ID or name",
		Run:   runServiceGet,
	}
	get.Flags().String("id", "", "Service ID")
	get.Flags().StringP("name", "n", "", "Instance name")
	serviceCmd.AddCommand(get)

	heartbeat := &cobra.Command{
		Use:   "heartbeat",
		Short: "Record liveness for a service",
		Run:   runServiceHeartbeat,
	}
	heartbeat.Flags().String("id", "", "Service ID (required)")
	heartbeat.Flags().String("persona", "", "Update the persona")
	heartbeat.Flags().String("project", "", "Update the project hash")
	heartbeat.Flags().StringSlice("tag", nil, "Replace the tags, repeatable")
	heartbeat.Flags().StringSlice("capability", nil, "Replace the capabilities, repeatable")
	heartbeat.MarkFlagRequired("id")
	serviceCmd.AddCommand(heartbeat)

	healthy := &cobra.Command{
		Use:   "healthy",
		Short: "Pick one healthy service matching a filter",
		Run:   runServiceHealthy,
	}
	addFilterFlags(healthy)
	serviceCmd.AddCommand(healthy)

	failover := &cobra.Command{
		Use:   "failover",
		Short: "Pick a healthy replacement for a failed service",
		Run:   runServiceFailover,
	}
	failover.Flags().String("failed", "", "Failed service ID (required)")
	failover.MarkFlagRequired("failed")
	serviceCmd.AddCommand(failover)

	rootCmd.AddCommand(serviceCmd)
}

func runServiceRegister(cmd *cobra.Command, args []string) {
	serviceType, _ := cmd.Flags().GetString("type")
	name, _ := cmd.Flags().GetString("name")
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	healthAddr, _ := cmd.Flags().GetString("health-addr")
	persona, _ := cmd.Flags().GetString("persona")
	project, _ := cmd.Flags().GetString("project")
	tags, _ := cmd.Flags().GetStringSlice("tag")
	capabilities, _ := cmd.Flags().GetStringSlice("capability")

	stored, err := newClient().RegisterService(cmd.Context(), registry.Endpoint{
		Type:       registry.ServiceType(serviceType),
		Name:       name,
		Host:       host,
		Port:       port,
		HealthAddr: healthAddr,
		Metadata: registry.Metadata{
			Persona:      persona,
			ProjectHash:  project,
			Tags:         tags,
			Capabilities: capabilities,
		},
	})
	if err != nil {
		exitErr("register", err)
	}

	if jsonFlag {
		printJSON(stored)
		return
	}
	fmt.Printf("registered %s (%s at %s, %s)\n", stored.ID, stored.Name, stored.Address(), stored.Status)
}

func runServiceUnregister(cmd *cobra.Command, args []string) {
	id, _ := cmd.Flags().GetString("id")

	removed, err := newClient().UnregisterService(cmd.Context(), id)
	if err != nil {
		exitErr("unregister", err)
	}

	if jsonFlag {
		printJSON(map[string]bool{"removed": removed})
		return
	}
	if removed {
		fmt.Println("unregistered")
	} else {
		fmt.Println("no service with that ID")
	}
}

func runServiceList(cmd *cobra.Command, args []string) {
	services, err := newClient().Services(cmd.Context(), filterFromFlags(cmd))
	if err != nil {
		exitErr("list", err)
	}

	if jsonFlag {
		printJSON(services)
		return
	}
	if len(services) == 0 {
		fmt.Println("no services registered")
		return
	}
	for _, e := range services {
		printEndpoint(e)
	}
}

func runServiceGet(cmd *cobra.Command, args []string) {
	id, _ := cmd.Flags().GetString("id")
	name, _ := cmd.Flags().GetString("name")
	if id == "" && name == "" {
		exitErr("get", fmt.Errorf("either --id or --name is required"))
	}

	client := newClient()
	var (
		e   registry.Endpoint
		err error
	)
	if id != "" {
		e, err = client.Service(cmd.Context(), id)
	} else {
		e, err = client.ServiceByName(cmd.Context(), name)
	}
	if err != nil {
		exitErr("get", err)
	}

	if jsonFlag {
		printJSON(e)
		return
	}
	printEndpoint(e)
}

func runServiceHeartbeat(cmd *cobra.Command, args []string) {
	id, _ := cmd.Flags().GetString("id")
	persona, _ := cmd.Flags().GetString("persona")
	project, _ := cmd.Flags().GetString("project")
	tags, _ := cmd.Flags().GetStringSlice("tag")
	capabilities, _ := cmd.Flags().GetStringSlice("capability")

	var patch *registry.MetadataPatch
	if persona != "" || project != "" || len(tags) > 0 || len(capabilities) > 0 {
		patch = &registry.MetadataPatch{
			Persona:      persona,
			ProjectHash:  project,
			Tags:         tags,
			Capabilities: capabilities,
		}
	}

	acknowledged, err := newClient().Heartbeat(cmd.Context(), id, patch)
	if err != nil {
		exitErr("heartbeat", err)
	}

	if jsonFlag {
		printJSON(map[string]bool{"acknowledged": acknowledged})
		return
	}
	if acknowledged {
		fmt.Println("acknowledged")
	} else {
		fmt.Println("unknown service, register again")
	}
}

func runServiceHealthy(cmd *cobra.Command, args []string) {
	e, err := newClient().FindHealthy(cmd.Context(), filterFromFlags(cmd))
	if err != nil {
		exitErr("healthy", err)
	}

	if jsonFlag {
		printJSON(e)
		return
	}
	printEndpoint(e)
}

func runServiceFailover(cmd *cobra.Command, args []string) {
	failedID, _ := cmd.Flags().GetString("failed")

	e, err := newClient().Failover(cmd.Context(), failedID)
	if err != nil {
		exitErr("failover", err)
	}

	if jsonFlag {
		printJSON(e)
		return
	}
	printEndpoint(e)
}
