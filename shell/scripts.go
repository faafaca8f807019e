package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Environment variables scripts read secrets from.
const (
	EnvAdminPassword = "MYSQLSH_ADMIN_PASSWORD"
	EnvDonorPassword = "MYSQLSH_DONOR_PASSWORD"
)

// literal renders v as a JavaScript literal.
func literal(v any) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return "{}"
	}
	return string(b)
}

// DumpInstance writes a logical dump of the whole instance to url.
func DumpInstance(url string, opts map[string]any) string {
	return fmt.Sprintf("util.dumpInstance(%s, %s)", literal(url), literal(opts))
}

// LoadDump loads the dump at url into the session's instance.
func LoadDump(url string, opts map[string]any) string {
	merged := map[string]any{"progressFile": "", "skipBinlog": true}
	for k, v := range opts {
		merged[k] = v
	}
	return fmt.Sprintf("util.loadDump(%s, %s)", literal(url), literal(merged))
}

// CloneFrom replaces the session's instance data with a clone of donor,
// authenticating as user with the password in EnvDonorPassword.
func CloneFrom(donor, user string) (string, error) {
	host, port, err := splitDonor(donor)
	if err != nil {
		return "", err
	}
	hostPort := net.JoinHostPort(host, strconv.Itoa(port))
	return strings.Join([]string{
		`try { session.runSql("INSTALL PLUGIN clone SONAME 'mysql_clone.so'") } catch (e) { if (e.code != 1125) throw e }`,
		fmt.Sprintf(`session.runSql("SET GLOBAL clone_valid_donor_list = ?", [%s])`, literal(hostPort)),
		fmt.Sprintf(`session.runSql("CLONE INSTANCE FROM ?@?:%d IDENTIFIED BY ?", [%s, %s, os.getenv(%s)])`,
			port, literal(user), literal(host), literal(EnvDonorPassword)),
	}, "\n"), nil
}

// splitDonor parses [mysql://][user@]host[:port].
func splitDonor(donor string) (string, int, error) {
	s := strings.TrimPrefix(donor, "mysql://")
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if s == "" {
		return "", 0, fmt.Errorf("invalid donor url %q", donor)
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return s, 3306, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid donor port in %q", donor)
	}
	return host, port, nil
}

// ConfigureAdmin prepares the session's instance for group replication
// and creates the cluster admin account with the password in EnvAdminPassword.
func ConfigureAdmin(adminUser string) string {
	return fmt.Sprintf(`dba.configureInstance(null, {clusterAdmin: %s, clusterAdminPassword: os.getenv(%s), restart: false})`,
		literal(adminUser), literal(EnvAdminPassword))
}

// CreateCluster creates the replication group on the session's instance.
func CreateCluster(name string) string {
	return fmt.Sprintf(`dba.createCluster(%s, {gtidSetIsComplete: true, manualStartOnBoot: true})`, literal(name))
}

// AddInstance joins target to the group, seeding it with clone.
func AddInstance(target string) string {
	return fmt.Sprintf(`dba.getCluster().addInstance(%s, {recoveryMethod: "clone", waitRecovery: 0})`, literal(target))
}

// RejoinInstance returns target to the group it left.
func RejoinInstance(target string) string {
	return fmt.Sprintf(`dba.getCluster().rejoinInstance(%s)`, literal(target))
}

// RebootCluster restarts the group from the session's instance after
// every member went offline.
func RebootCluster(name string) string {
	return fmt.Sprintf(`dba.rebootClusterFromCompleteOutage(%s, {force: true})`, literal(name))
}

// RemoveInstance removes target from the group even if it is unreachable.
func RemoveInstance(target string) string {
	return fmt.Sprintf(`dba.getCluster().removeInstance(%s, {force: true})`, literal(target))
}

// Dump runs DumpInstance and returns the parsed summary.
func (c *Client) Dump(ctx context.Context, url string, opts map[string]any) (map[string]any, error) {
	out, err := c.Run(ctx, "dumpInstance", DumpInstance(url, opts))
	if err != nil {
		return nil, err
	}
	return ParseDumpSummary(out), nil
}
