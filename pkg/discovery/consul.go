package discovery

import (
	"fmt"
	"slices"
	"strconv"

	"pattern-analysis-service/internal/config"

	"github.com/hashicorp/consul/api"
	"github.com/rs/zerolog/log"
)

type ServiceRegistry struct {
	client *api.Client
	server config.ServerConfig
}

func NewServiceRegistry(server config.ServerConfig, consul config.ConsulConfig) (*ServiceRegistry, error) {
	consulConfig := api.DefaultConfig()
	consulConfig.Address = consul.ConsulAddress

	client, err := api.NewClient(consulConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Consul client: %w", err)
	}

	return &ServiceRegistry{
		client: client,
		server: server,
	}, nil
}

func (sr *ServiceRegistry) serviceID() string {
	return sr.server.ServiceID + "-http"
}

func (sr *ServiceRegistry) registration() (*api.AgentServiceRegistration, error) {
	httpPort, err := strconv.Atoi(sr.server.Port)
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP port: %w", err)
	}

	return &api.AgentServiceRegistration{
		ID:      sr.serviceID(),
		Name:    sr.server.ServiceName,
		Port:    httpPort,
		Address: sr.server.ServiceAddress,
		Check: &api.AgentServiceCheck{
			HTTP:     fmt.Sprintf("http://%s:%s/health", sr.server.ServiceAddress, sr.server.Port),
			Interval: "10s",
			Timeout:  "5s",
		},
		Tags: []string{"pattern-analysis", "http", "internal"},
		Meta: map[string]string{
			"protocol": "http",
			"version":  "1.0",
		},
	}, nil
}

func (sr *ServiceRegistry) Register() error {
	registration, err := sr.registration()
	if err != nil {
		return err
	}

	if err := sr.client.Agent().ServiceRegister(registration); err != nil {
		return fmt.Errorf("failed to register HTTP service with Consul: %w", err)
	}

	log.Info().
		Str("service", registration.Name).
		Str("address", registration.Address).
		Int("port", registration.Port).
		Msg("Registered HTTP service with Consul")
	return nil
}

func (sr *ServiceRegistry) Deregister() error {
	if err := sr.client.Agent().ServiceDeregister(sr.serviceID()); err != nil {
		return fmt.Errorf("failed to deregister service: %w", err)
	}

	log.Info().Str("service", sr.server.ServiceName).Msg("Deregistered service from Consul")
	return nil
}

// GetServiceURL resolves a healthy instance of serviceName speaking protocol
// and returns its base URL.
func (sr *ServiceRegistry) GetServiceURL(serviceName, protocol string) (string, error) {
	if protocol == "" {
		protocol = "http"
	}

	services, meta, err := sr.client.Health().Service(serviceName, "", true, &api.QueryOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to find service %s: %w", serviceName, err)
	}

	log.Debug().
		Int("instances", len(services)).
		Str("service", serviceName).
		Uint64("consul_index", meta.LastIndex).
		Msg("Resolved service instances")

	address, err := selectInstance(services, serviceName, protocol)
	if err != nil {
		return "", err
	}

	scheme := "http"
	if protocol == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, address), nil
}

// selectInstance picks the first instance advertising protocol in its meta
// or tags and returns host:port.
func selectInstance(services []*api.ServiceEntry, serviceName, protocol string) (string, error) {
	if len(services) == 0 {
		return "", fmt.Errorf("no healthy instances of service %s found", serviceName)
	}

	for _, entry := range services {
		if entry.Service == nil {
			continue
		}
		proto, hasProto := entry.Service.Meta["protocol"]
		if (hasProto && proto == protocol) || slices.Contains(entry.Service.Tags, protocol) {
			address := entry.Service.Address
			if address == "" && entry.Node != nil {
				address = entry.Node.Address
			}
			return fmt.Sprintf("%s:%d", address, entry.Service.Port), nil
		}
	}

	return "", fmt.Errorf("no healthy instances of service %s with protocol %s found", serviceName, protocol)
}
