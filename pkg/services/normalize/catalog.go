package normalize

import (
	"strings"
	"sync"

	"github.com/de-tools/cost-atlas/pkg/models/domain"
)

// Canonical service names shared by every provider.
const (
	ServiceCompute       = "compute"
	ServiceObjectStorage = "object-storage"
	ServiceBlockStorage  = "block-storage"
	ServiceServerless    = "serverless"
	ServiceDatabase      = "relational-database"
	ServiceNoSQL         = "nosql-database"
	ServiceWarehouse     = "data-warehouse"
	ServiceKubernetes    = "kubernetes"
	ServiceNetworking    = "networking"
	ServiceCDN           = "cdn"
	ServiceMonitoring    = "monitoring"
	ServiceSupport       = "support"
)

var defaultServices = map[domain.Provider]map[string]string{
	domain.ProviderAWS: {
		"amazon elastic compute cloud - compute":          ServiceCompute,
		"ec2":                                             ServiceCompute,
		"ec2 - other":                                     ServiceBlockStorage,
		"amazon elastic block store":                      ServiceBlockStorage,
		"amazon simple storage service":                   ServiceObjectStorage,
		"s3":                                              ServiceObjectStorage,
		"aws lambda":                                      ServiceServerless,
		"amazon relational database service":              ServiceDatabase,
		"rds":                                             ServiceDatabase,
		"amazon dynamodb":                                 ServiceNoSQL,
		"amazon redshift":                                 ServiceWarehouse,
		"amazon elastic container service for kubernetes": ServiceKubernetes,
		"amazon elastic kubernetes service":               ServiceKubernetes,
		"amazon virtual private cloud":                    ServiceNetworking,
		"aws data transfer":                               ServiceNetworking,
		"amazon cloudfront":                               ServiceCDN,
		"amazoncloudwatch":                                ServiceMonitoring,
		"amazon cloudwatch":                               ServiceMonitoring,
		"aws support (business)":                          ServiceSupport,
		"aws support (developer)":                         ServiceSupport,
	},
	domain.ProviderGCP: {
		"compute engine":               ServiceCompute,
		"cloud storage":                ServiceObjectStorage,
		"cloud functions":              ServiceServerless,
		"cloud run":                    ServiceServerless,
		"cloud sql":                    ServiceDatabase,
		"cloud spanner":                ServiceDatabase,
		"cloud firestore":              ServiceNoSQL,
		"cloud bigtable":               ServiceNoSQL,
		"bigquery":                     ServiceWarehouse,
		"kubernetes engine":            ServiceKubernetes,
		"networking":                   ServiceNetworking,
		"cloud cdn":                    ServiceCDN,
		"cloud monitoring":             ServiceMonitoring,
		"cloud logging":                ServiceMonitoring,
		"support":                      ServiceSupport,
		"persistent disk":              ServiceBlockStorage,
		"cloud dns":                    ServiceNetworking,
		"cloud load balancing":         ServiceNetworking,
		"vpc network":                  ServiceNetworking,
		"artifact registry":            ServiceObjectStorage,
		"cloud memorystore":            ServiceNoSQL,
		"cloud pub/sub":                ServiceServerless,
		"app engine":                   ServiceServerless,
		"dataflow":                     ServiceWarehouse,
		"cloud composer":               ServiceWarehouse,
		"vertex ai":                    ServiceCompute,
		"cloud key management service": ServiceSupport,
	},
	domain.ProviderAzure: {
		"virtual machines":              ServiceCompute,
		"storage":                       ServiceObjectStorage,
		"azure functions":               ServiceServerless,
		"functions":                     ServiceServerless,
		"sql database":                  ServiceDatabase,
		"azure database for postgresql": ServiceDatabase,
		"azure cosmos db":               ServiceNoSQL,
		"azure synapse analytics":       ServiceWarehouse,
		"azure kubernetes service":      ServiceKubernetes,
		"virtual network":               ServiceNetworking,
		"bandwidth":                     ServiceNetworking,
		"load balancer":                 ServiceNetworking,
		"content delivery network":      ServiceCDN,
		"azure monitor":                 ServiceMonitoring,
		"log analytics":                 ServiceMonitoring,
		"managed disks":                 ServiceBlockStorage,
	},
}

// Catalog maps provider service names to canonical ones.
type Catalog struct {
	mu       sync.RWMutex
	services map[domain.Provider]map[string]string
}

func NewCatalog() *Catalog {
	c := &Catalog{services: make(map[domain.Provider]map[string]string)}
	for p, m := range defaultServices {
		for raw, canonical := range m {
			c.Add(p, raw, canonical)
		}
	}
	return c
}

// Add registers or overrides one mapping.
func (c *Catalog) Add(p domain.Provider, raw, canonical string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.services[p] == nil {
		c.services[p] = make(map[string]string)
	}
	c.services[p][strings.ToLower(strings.TrimSpace(raw))] = canonical
}

// Canonical returns the canonical name, or "<provider>/<raw>" and false for
// services awaiting curation.
func (c *Catalog) Canonical(p domain.Provider, raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	c.mu.RLock()
	name, ok := c.services[p][strings.ToLower(trimmed)]
	c.mu.RUnlock()
	if ok {
		return name, true
	}
	return string(p) + "/" + trimmed, false
}
