package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/vaultkeys/internal/client"
	"github.com/TheMichaelB/vaultkeys/internal/models"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List decrypted vault items",
	Example: `  vaultkeys list --type login --uri https://github.com
  vaultkeys list --username alice@example.com`,
	RunE: runList,
}

var getCmd = &cobra.Command{
	Use:   "get <id|name>",
	Short: "Show one vault item",
	Long: `Get looks the item up by ID first, then by exact name. When several
items share the name the most recently revised one wins.`,
	Example: `  vaultkeys get GitHub --field password
  vaultkeys get 0f3c9a2e-... --json`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a vault item",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var shareCmd = &cobra.Command{
	Use:   "share <id|name>",
	Short: "Share an item with the instance organization",
	Args:  cobra.ExactArgs(1),
	RunE:  runShare,
}

var (
	itemsPassword string
	listType      string
	listURI       string
	listUsername  string
	listName      string
	getURI        string
	getField      string
)

// item is the printable form of a decrypted vault item.
type item struct {
	ID             string   `json:"id"`
	Type           string   `json:"type"`
	Name           string   `json:"name"`
	OrganizationID string   `json:"organization_id,omitempty"`
	FolderID       string   `json:"folder_id,omitempty"`
	Username       string   `json:"username,omitempty"`
	Password       string   `json:"password,omitempty"`
	TOTP           string   `json:"totp,omitempty"`
	URIs           []string `json:"uris,omitempty"`
	Notes          string   `json:"notes,omitempty"`
	RevisionDate   string   `json:"revision_date"`
}

func init() {
	rootCmd.AddCommand(listCmd, getCmd, deleteCmd, shareCmd)

	for _, cmd := range []*cobra.Command{listCmd, getCmd, deleteCmd, shareCmd} {
		cmd.Flags().StringVarP(&itemsPassword, "password", "p", "",
			"Master password (will prompt if not provided)")
	}

	listCmd.Flags().StringVarP(&listType, "type", "t", "",
		"Item type: login, note, card or identity")
	listCmd.Flags().StringVar(&listURI, "uri", "",
		"Only logins for this site")
	listCmd.Flags().StringVar(&listUsername, "username", "",
		"Only logins with this username")
	listCmd.Flags().StringVar(&listName, "name", "",
		"Only items with this name")

	getCmd.Flags().StringVar(&getURI, "uri", "",
		"Only consider logins for this site")
	getCmd.Flags().StringVarP(&getField, "field", "f", "",
		"Print a single field: username, password, totp, notes or uri")
}

func newItem(view *models.CipherView, withSecrets bool) item {
	out := item{
		ID:             view.ID,
		Type:           view.Type.String(),
		Name:           view.Name,
		OrganizationID: view.OrganizationID,
		FolderID:       view.FolderID,
		RevisionDate:   view.RevisionDate.Format(time.RFC3339),
	}
	if view.Login != nil {
		out.Username = view.Login.Username
		for _, u := range view.Login.URIs {
			out.URIs = append(out.URIs, u.URI)
		}
		if withSecrets {
			out.Password = view.Login.Password
			out.TOTP = view.Login.TOTP
		}
	}
	if withSecrets {
		out.Notes = view.Notes
	}
	return out
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	search := client.Search{URI: listURI}
	if listType != "" {
		t, ok := models.ParseCipherType(listType)
		if !ok {
			return fmt.Errorf("unknown item type %q", listType)
		}
		search.Type = t
	}
	if listUsername != "" {
		search.Username = listUsername
	}
	if listName != "" {
		search.Name = listName
	}

	if err := requireUnlocked(ctx, itemsPassword); err != nil {
		return err
	}

	views, err := vaultClient.GetAllDecryptedFor(ctx, search)
	if err != nil {
		return err
	}

	items := make([]item, 0, len(views))
	for _, view := range views {
		items = append(items, newItem(view, false))
	}

	if jsonOutput {
		printJSON(items)
		return nil
	}
	if len(items) == 0 {
		printInfo("No items found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tNAME\tUSERNAME")
	for _, it := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", it.ID, it.Type, it.Name, it.Username)
	}
	return w.Flush()
}

// findItem resolves an ID or a name to a decrypted item.
func findItem(cmd *cobra.Command, ref, uri string) (*models.CipherView, error) {
	ctx := cmd.Context()

	search := &client.Search{Name: ref, URI: uri}
	newestFirst := func(a, b *models.CipherView) bool {
		return a.RevisionDate.After(b.RevisionDate)
	}

	cipher, err := vaultClient.GetByIDOrSearch(ctx, ref, search, newestFirst)
	if err != nil {
		return nil, err
	}
	if cipher == nil {
		return nil, fmt.Errorf("no item matches %q", ref)
	}
	return vaultClient.Decrypt(ctx, cipher)
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if err := requireUnlocked(ctx, itemsPassword); err != nil {
		return err
	}

	view, err := findItem(cmd, args[0], getURI)
	if err != nil {
		return err
	}

	if getField != "" {
		value, err := itemField(view, getField)
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil
	}

	it := newItem(view, true)
	if jsonOutput {
		printJSON(it)
		return nil
	}

	fmt.Printf("Name:      %s\n", it.Name)
	fmt.Printf("Type:      %s\n", it.Type)
	fmt.Printf("ID:        %s\n", it.ID)
	if it.Username != "" {
		fmt.Printf("Username:  %s\n", it.Username)
	}
	if it.Password != "" {
		fmt.Printf("Password:  %s\n", it.Password)
	}
	for _, u := range it.URIs {
		fmt.Printf("URI:       %s\n", u)
	}
	if it.Notes != "" {
		fmt.Printf("Notes:     %s\n", it.Notes)
	}
	return nil
}

func itemField(view *models.CipherView, field string) (string, error) {
	switch strings.ToLower(field) {
	case "username":
		return view.Username(), nil
	case "password":
		return view.Password(), nil
	case "notes":
		return view.Notes, nil
	case "uri":
		if view.Login == nil || len(view.Login.URIs) == 0 {
			return "", nil
		}
		return view.Login.URIs[0].URI, nil
	case "totp":
		if view.Login == nil || view.Login.TOTP == "" {
			return "", errors.New("item has no TOTP seed")
		}
		return vaultClient.Services().TOTP.GenerateCode(view.Login.TOTP)
	default:
		return "", fmt.Errorf("unknown field %q", field)
	}
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if err := requireUnlocked(ctx, itemsPassword); err != nil {
		return err
	}
	err := vaultClient.DeleteCipher(ctx, args[0])
	return report(err, fmt.Sprintf("Deleted %s", args[0]), map[string]interface{}{"id": args[0]})
}

func runShare(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if err := requireUnlocked(ctx, itemsPassword); err != nil {
		return err
	}

	view, err := findItem(cmd, args[0], "")
	if err != nil {
		return err
	}
	shared, err := vaultClient.ShareWithCozy(ctx, view)

	fields := map[string]interface{}{"id": view.ID}
	if shared != nil {
		fields["organization_id"] = shared.OrganizationID
	}
	return report(err, fmt.Sprintf("Shared %q with the instance organization", view.Name), fields)
}
