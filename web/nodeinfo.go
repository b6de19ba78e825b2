package web

import (
	"log"

	"github.com/deemkeen/tusker/domain"
	"github.com/deemkeen/tusker/util"
)

const nodeInfoSchema = "http://nodeinfo.diaspora.software/ns/schema/2.0"

// NodeInfo20 represents the NodeInfo 2.0 schema
// See: https://nodeinfo.diaspora.software/schema.html
type NodeInfo20 struct {
	Version           string           `json:"version"`
	Software          NodeInfoSoftware `json:"software"`
	Protocols         []string         `json:"protocols"`
	Services          NodeInfoServices `json:"services"`
	OpenRegistrations bool             `json:"openRegistrations"`
	Usage             NodeInfoUsage    `json:"usage"`
	Metadata          NodeInfoMetadata `json:"metadata"`
}

type NodeInfoSoftware struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type NodeInfoServices struct {
	Inbound  []string `json:"inbound"`
	Outbound []string `json:"outbound"`
}

type NodeInfoUsage struct {
	Users       NodeInfoUsers `json:"users"`
	LocalPosts  int           `json:"localPosts"`
	Communities int           `json:"communities"`
}

type NodeInfoUsers struct {
	Total int `json:"total"`
}

type NodeInfoMetadata struct {
	NodeName        string `json:"nodeName"`
	NodeDescription string `json:"nodeDescription"`
}

// WellKnownNodeInfo represents the /.well-known/nodeinfo response
type WellKnownNodeInfo struct {
	Links []NodeInfoLink `json:"links"`
}

type NodeInfoLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// GetNodeInfo20 collects server statistics. Count failures are logged and reported as zero.
func GetNodeInfo20(store Store) *NodeInfo20 {
	users, err := store.CountLocalActors(domain.ActorPerson)
	if err != nil {
		log.Printf("Failed to count local users: %v", err)
	}

	communities, err := store.CountLocalActors(domain.ActorGroup)
	if err != nil {
		log.Printf("Failed to count local communities: %v", err)
	}

	localPosts, err := store.CountLocalPosts()
	if err != nil {
		log.Printf("Failed to count local posts: %v", err)
	}

	return &NodeInfo20{
		Version:   "2.0",
		Software:  NodeInfoSoftware{Name: util.Name, Version: util.GetVersion()},
		Protocols: []string{"activitypub"},
		Services:  NodeInfoServices{Inbound: []string{}, Outbound: []string{"rss2.0"}},
		Usage: NodeInfoUsage{
			Users:       NodeInfoUsers{Total: users},
			LocalPosts:  localPosts,
			Communities: communities,
		},
		Metadata: NodeInfoMetadata{
			NodeName:        "Tusker",
			NodeDescription: "A federated link aggregator with communities",
		},
	}
}

// GetWellKnownNodeInfo returns the /.well-known/nodeinfo discovery document
func GetWellKnownNodeInfo(conf *util.AppConfig) *WellKnownNodeInfo {
	return &WellKnownNodeInfo{
		Links: []NodeInfoLink{
			{
				Rel:  nodeInfoSchema,
				Href: "https://" + conf.Conf.SslDomain + "/nodeinfo/2.0",
			},
		},
	}
}
