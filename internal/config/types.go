// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package config

import "time"

// Config is the full application configuration.
type Config struct {
	Database  Database  `mapstructure:"database" yaml:"database"`
	Language  string    `mapstructure:"language" yaml:"language"`
	Profiles  Profiles  `mapstructure:"profiles" yaml:"profiles"`
	Network   Network   `mapstructure:"network" yaml:"network"`
	WireGuard WireGuard `mapstructure:"wireguard" yaml:"wireguard"`
	API       API       `mapstructure:"api" yaml:"api"`
	Events    Events    `mapstructure:"events" yaml:"events"`
	Backup    Backup    `mapstructure:"backup" yaml:"backup"`
	Reconcile Reconcile `mapstructure:"reconcile" yaml:"reconcile"`
}

type Database struct {
	Type string `mapstructure:"type" yaml:"type"`
	Dsn  string `mapstructure:"dsn" yaml:"dsn"`
}

type Profiles struct {
	MaxPerOwner int `mapstructure:"max_per_owner" yaml:"max_per_owner"`
}

// Network describes the managed /16 and the two category pools inside it.
type Network struct {
	CIDR      string    `mapstructure:"cidr" yaml:"cidr"`
	DNS       string    `mapstructure:"dns" yaml:"dns"`
	Personal  PoolRange `mapstructure:"personal" yaml:"personal"`
	Webserver PoolRange `mapstructure:"webserver" yaml:"webserver"`
}

// PoolRange bounds a pool by third octet (subnet) and fourth octet (host).
type PoolRange struct {
	SubnetStart int `mapstructure:"subnet_start" yaml:"subnet_start"`
	SubnetEnd   int `mapstructure:"subnet_end" yaml:"subnet_end"`
	HostStart   int `mapstructure:"host_start" yaml:"host_start"`
	HostEnd     int `mapstructure:"host_end" yaml:"host_end"`
}

type WireGuard struct {
	Interface         string        `mapstructure:"interface" yaml:"interface"`
	ConfigDir         string        `mapstructure:"config_dir" yaml:"config_dir"`
	UseSudo           bool          `mapstructure:"use_sudo" yaml:"use_sudo"`
	CommandTimeout    time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	Keygen            string        `mapstructure:"keygen" yaml:"keygen"` // "native" or "command"
	ServerPublicKey   string        `mapstructure:"server_public_key" yaml:"server_public_key"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	Keepalive         int           `mapstructure:"keepalive" yaml:"keepalive"`
	PruneOnDeactivate bool          `mapstructure:"prune_on_deactivate" yaml:"prune_on_deactivate"`
	Remote            Remote        `mapstructure:"remote" yaml:"remote"`
}

// Remote points the control plane at a WireGuard host reachable over SSH.
// An empty Host means the daemon runs locally.
type Remote struct {
	Host           string `mapstructure:"host" yaml:"host"`
	User           string `mapstructure:"user" yaml:"user"`
	PrivateKeyFile string `mapstructure:"private_key_file" yaml:"private_key_file"`
	KnownHostKey   string `mapstructure:"known_host_key" yaml:"known_host_key"`
}

type API struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
	Token  string `mapstructure:"token" yaml:"token"`
}

type Events struct {
	AMQPURL  string `mapstructure:"amqp_url" yaml:"amqp_url"`
	Exchange string `mapstructure:"exchange" yaml:"exchange"`
}

type Backup struct {
	S3Bucket    string `mapstructure:"s3_bucket" yaml:"s3_bucket"`
	S3Region    string `mapstructure:"s3_region" yaml:"s3_region"`
	S3Endpoint  string `mapstructure:"s3_endpoint" yaml:"s3_endpoint"`
	S3AccessKey string `mapstructure:"s3_access_key" yaml:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key" yaml:"s3_secret_key"`
	S3Prefix    string `mapstructure:"s3_prefix" yaml:"s3_prefix"`
}

type Reconcile struct {
	Schedule string `mapstructure:"schedule" yaml:"schedule"`
}

// Defaults returns the flat viper defaults. Every key must be listed here so
// that environment overrides are picked up by Unmarshal.
func Defaults() map[string]any {
	return map[string]any{
		"database.type":                     "sqlite",
		"database.dsn":                      "./netkeeper.db",
		"language":                          "en",
		"profiles.max_per_owner":            3,
		"network.cidr":                      "10.8.0.0/16",
		"network.dns":                       "10.8.0.1",
		"network.personal.subnet_start":     100,
		"network.personal.subnet_end":       255,
		"network.personal.host_start":       1,
		"network.personal.host_end":         254,
		"network.webserver.subnet_start":    10,
		"network.webserver.subnet_end":      25,
		"network.webserver.host_start":      1,
		"network.webserver.host_end":        254,
		"wireguard.interface":               "wg0",
		"wireguard.config_dir":              "/etc/wireguard",
		"wireguard.use_sudo":                true,
		"wireguard.command_timeout":         "5s",
		"wireguard.keygen":                  "native",
		"wireguard.server_public_key":       "",
		"wireguard.endpoint":                "",
		"wireguard.keepalive":               25,
		"wireguard.prune_on_deactivate":     false,
		"wireguard.remote.host":             "",
		"wireguard.remote.user":             "root",
		"wireguard.remote.private_key_file": "",
		"wireguard.remote.known_host_key":   "",
		"api.listen":                        "127.0.0.1:8085",
		"api.token":                         "",
		"events.amqp_url":                   "",
		"events.exchange":                   "netkeeper.events",
		"backup.s3_bucket":                  "",
		"backup.s3_region":                  "us-east-1",
		"backup.s3_endpoint":                "",
		"backup.s3_access_key":              "",
		"backup.s3_secret_key":              "",
		"backup.s3_prefix":                  "netkeeper",
		"reconcile.schedule":                "@every 10m",
	}
}
