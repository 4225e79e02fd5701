package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/proxyfleet/provisioning-backend/api"
	"github.com/proxyfleet/provisioning-backend/cmd/flags"
)

var serverAddrFlag = &cli.StringFlag{
	Name:  "server-addr",
	Value: "http://127.0.0.1:8080",
	Usage: "address of the provisioning API server",
}

func main() {
	app := &cli.App{
		Name:  "admin",
		Usage: "Administer the proxy fleet provisioning service",
		Flags: append([]cli.Flag{serverAddrFlag}, flags.CommonFlags...),
		Commands: []*cli.Command{
			{
				Name:  "users",
				Usage: "manage provisioned users",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "list all provisioned users",
						Action: runUsersList,
					},
					{
						Name:      "resolve",
						Usage:     "resolve directory users for a request kind",
						ArgsUsage: "<none|user|group|all> [value]",
						Action:    runUsersResolve,
					},
					{
						Name:      "insert",
						Usage:     "resolve directory users and provision them",
						ArgsUsage: "<none|user|group|all> [value]",
						Action:    runUsersInsert,
					},
					{
						Name:      "add",
						Usage:     "provision a single user by email",
						ArgsUsage: "<email> [name]",
						Action:    runUsersAdd,
					},
					{
						Name:      "get",
						Usage:     "show a user including key material",
						ArgsUsage: "<user-id>",
						Action:    runUsersGet,
					},
					{
						Name:      "delete",
						Usage:     "remove a provisioned user",
						ArgsUsage: "<user-id>",
						Action:    runUsersDelete,
					},
					{
						Name:      "invite",
						Usage:     "issue an invite code for a user",
						ArgsUsage: "<user-id>",
						Action:    runUsersInvite,
					},
					{
						Name:      "rotate",
						Usage:     "rotate a user's key pair",
						ArgsUsage: "<user-id>",
						Action:    runUsersRotate,
					},
					{
						Name:      "revoke",
						Usage:     "toggle revocation of a user's key pair",
						ArgsUsage: "<user-id>",
						Action:    runUsersRevoke,
					},
				},
			},
			{
				Name:  "proxies",
				Usage: "manage the proxy server fleet",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "list registered proxy servers",
						Action: runProxiesList,
					},
					{
						Name:      "add",
						Usage:     "register a proxy server",
						ArgsUsage: "<address>",
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "inactive", Usage: "register without marking active"},
						},
						Action: runProxiesAdd,
					},
					{
						Name:      "remove",
						Usage:     "remove a proxy server",
						ArgsUsage: "<address>",
						Action:    runProxiesRemove,
					},
				},
			},
			{
				Name:  "verification",
				Usage: "manage domain verification records",
				Subcommands: []*cli.Command{
					{
						Name:      "get",
						Usage:     "show the verification record for a domain",
						ArgsUsage: "<domain>",
						Action:    runVerificationGet,
					},
					{
						Name:      "set",
						Usage:     "replace the verification content for a domain",
						ArgsUsage: "<domain> <content>",
						Action:    runVerificationSet,
					},
					{
						Name:      "check",
						Usage:     "check the domain's DNS TXT records for the content",
						ArgsUsage: "<domain>",
						Action:    runVerificationCheck,
					},
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newClient(cCtx *cli.Context) *api.Client {
	return &api.Client{ServerAddr: cCtx.String(serverAddrFlag.Name)}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func requireArg(cCtx *cli.Context, name string) (string, error) {
	v := cCtx.Args().First()
	if v == "" {
		return "", fmt.Errorf("missing required argument: %s", name)
	}
	return v, nil
}

func resolveRequest(cCtx *cli.Context) (api.ResolveUsersRequest, error) {
	kind, err := requireArg(cCtx, "kind")
	if err != nil {
		return api.ResolveUsersRequest{}, err
	}
	return api.ResolveUsersRequest{Kind: kind, Value: cCtx.Args().Get(1)}, nil
}

func runUsersList(cCtx *cli.Context) error {
	resp, err := newClient(cCtx).ListUsers(cCtx.Context)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runUsersResolve(cCtx *cli.Context) error {
	req, err := resolveRequest(cCtx)
	if err != nil {
		return err
	}
	resp, err := newClient(cCtx).ResolveUsers(cCtx.Context, req)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runUsersInsert(cCtx *cli.Context) error {
	req, err := resolveRequest(cCtx)
	if err != nil {
		return err
	}
	client := newClient(cCtx)
	resolved, err := client.ResolveUsers(cCtx.Context, req)
	if err != nil {
		return err
	}
	if resolved.Error != "" {
		return fmt.Errorf("resolution failed: %s", resolved.Error)
	}
	resp, err := client.InsertUsers(cCtx.Context, api.InsertUsersRequest{Users: resolved.Users})
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runUsersAdd(cCtx *cli.Context) error {
	email, err := requireArg(cCtx, "email")
	if err != nil {
		return err
	}
	resp, err := newClient(cCtx).InsertUsers(cCtx.Context, api.InsertUsersRequest{
		Users: []api.UserRecord{{PrimaryEmail: email, FullName: cCtx.Args().Get(1)}},
	})
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runUsersGet(cCtx *cli.Context) error {
	id, err := requireArg(cCtx, "user-id")
	if err != nil {
		return err
	}
	resp, err := newClient(cCtx).GetUser(cCtx.Context, id)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runUsersDelete(cCtx *cli.Context) error {
	id, err := requireArg(cCtx, "user-id")
	if err != nil {
		return err
	}
	return newClient(cCtx).DeleteUser(cCtx.Context, id)
}

func runUsersInvite(cCtx *cli.Context) error {
	id, err := requireArg(cCtx, "user-id")
	if err != nil {
		return err
	}
	resp, err := newClient(cCtx).InviteCode(cCtx.Context, id)
	if err != nil {
		return err
	}
	fmt.Println(resp.InviteCode)
	return nil
}

func runUsersRotate(cCtx *cli.Context) error {
	id, err := requireArg(cCtx, "user-id")
	if err != nil {
		return err
	}
	resp, err := newClient(cCtx).RotateKeyPair(cCtx.Context, id)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runUsersRevoke(cCtx *cli.Context) error {
	id, err := requireArg(cCtx, "user-id")
	if err != nil {
		return err
	}
	resp, err := newClient(cCtx).ToggleRevoked(cCtx.Context, id)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runProxiesList(cCtx *cli.Context) error {
	resp, err := newClient(cCtx).ListProxies(cCtx.Context)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runProxiesAdd(cCtx *cli.Context) error {
	address, err := requireArg(cCtx, "address")
	if err != nil {
		return err
	}
	return newClient(cCtx).AddProxy(cCtx.Context, api.ProxyServerRecord{
		Address: address,
		Active:  !cCtx.Bool("inactive"),
	})
}

func runProxiesRemove(cCtx *cli.Context) error {
	address, err := requireArg(cCtx, "address")
	if err != nil {
		return err
	}
	return newClient(cCtx).RemoveProxy(cCtx.Context, address)
}

func runVerificationGet(cCtx *cli.Context) error {
	domain, err := requireArg(cCtx, "domain")
	if err != nil {
		return err
	}
	resp, err := newClient(cCtx).GetVerification(cCtx.Context, domain)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runVerificationSet(cCtx *cli.Context) error {
	domain, err := requireArg(cCtx, "domain")
	if err != nil {
		return err
	}
	content := cCtx.Args().Get(1)
	if content == "" {
		return fmt.Errorf("missing required argument: content")
	}
	resp, err := newClient(cCtx).UpdateVerification(cCtx.Context, domain, content)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runVerificationCheck(cCtx *cli.Context) error {
	domain, err := requireArg(cCtx, "domain")
	if err != nil {
		return err
	}
	resp, err := newClient(cCtx).CheckVerification(cCtx.Context, domain)
	if err != nil {
		return err
	}
	return printJSON(resp)
}
