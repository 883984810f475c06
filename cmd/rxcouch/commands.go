package main

import (
	"github.com/spf13/cobra"

	rxcouch "github.com/tangledfruit/rx-couch"
)

func (c *cli) newPingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Print the server welcome object",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := c.server(cmd)
			if err != nil {
				return err
			}
			info, err := srv.Info(commandContext(cmd))
			if err != nil {
				return err
			}
			return c.print(cmd, info)
		},
	}
}

func (c *cli) newDatabasesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dbs",
		Short: "List databases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := c.server(cmd)
			if err != nil {
				return err
			}
			names, err := srv.AllDatabases(commandContext(cmd))
			if err != nil {
				return err
			}
			return c.print(cmd, names)
		},
	}
}

func (c *cli) newCreateDatabaseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-db NAME",
		Short: "Create a database; an existing one is not an error unless --fail-if-exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := c.server(cmd)
			if err != nil {
				return err
			}
			failIfExists, err := cmd.Flags().GetBool("fail-if-exists")
			if err != nil {
				return err
			}
			opts := &rxcouch.CreateDatabaseOptions{FailIfExists: failIfExists}
			if err := srv.CreateDatabase(commandContext(cmd), args[0], opts); err != nil {
				return err
			}
			return c.print(cmd, map[string]any{"ok": true})
		},
	}
	cmd.Flags().Bool("fail-if-exists", false, "report an existing database as an error")
	return cmd
}

func (c *cli) newDeleteDatabaseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-db NAME",
		Short: "Delete a database; a missing one is not an error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := c.server(cmd)
			if err != nil {
				return err
			}
			if err := srv.DeleteDatabase(commandContext(cmd), args[0]); err != nil {
				return err
			}
			return c.print(cmd, map[string]any{"ok": true})
		},
	}
}

func (c *cli) newGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get DB ID",
		Short: "Fetch a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := c.optionFlag(cmd)
			if err != nil {
				return err
			}
			db, err := c.database(cmd, args[0])
			if err != nil {
				return err
			}
			doc, err := db.Get(commandContext(cmd), args[1], opts)
			if err != nil {
				return err
			}
			return c.print(cmd, doc)
		},
	}
	addOptionFlag(cmd)
	return cmd
}

func (c *cli) newPutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "put DB JSON|-",
		Short: "Store a document as is; _rev must match the stored revision",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := c.readDocument(cmd, args[1])
			if err != nil {
				return err
			}
			db, err := c.database(cmd, args[0])
			if err != nil {
				return err
			}
			res, err := db.Put(commandContext(cmd), doc)
			if err != nil {
				return err
			}
			return c.print(cmd, res)
		},
	}
}

// newUpdateCommand serves both update and replace, which share arguments
// and output.
func (c *cli) newUpdateCommand(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " DB JSON|-",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := c.readDocument(cmd, args[1])
			if err != nil {
				return err
			}
			db, err := c.database(cmd, args[0])
			if err != nil {
				return err
			}
			modify := db.Update
			if name == "replace" {
				modify = db.Replace
			}
			res, err := modify(commandContext(cmd), doc)
			if err != nil {
				return err
			}
			return c.print(cmd, res)
		},
	}
}

func (c *cli) newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete DB ID REV",
		Short: "Delete a document revision",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := c.database(cmd, args[0])
			if err != nil {
				return err
			}
			res, err := db.Delete(commandContext(cmd), args[1], args[2])
			if err != nil {
				return err
			}
			return c.print(cmd, res)
		},
	}
}

func (c *cli) newAllDocsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "all-docs DB",
		Short: "List documents; startkey and endkey may be given unquoted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := c.optionFlag(cmd)
			if err != nil {
				return err
			}
			db, err := c.database(cmd, args[0])
			if err != nil {
				return err
			}
			res, err := db.AllDocs(commandContext(cmd), opts)
			if err != nil {
				return err
			}
			return c.print(cmd, res)
		},
	}
	addOptionFlag(cmd)
	return cmd
}

func (c *cli) newReplicateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replicate [TARGET_DB]",
		Short: "Start a replication; with TARGET_DB the target is that database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := c.optionFlag(cmd)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			var res any
			if len(args) == 1 {
				db, err := c.database(cmd, args[0])
				if err != nil {
					return err
				}
				res, err = db.ReplicateFrom(ctx, opts)
				if err != nil {
					return err
				}
			} else {
				srv, err := c.server(cmd)
				if err != nil {
					return err
				}
				res, err = srv.Replicate(ctx, opts)
				if err != nil {
					return err
				}
			}
			return c.print(cmd, res)
		},
	}
	addOptionFlag(cmd)
	return cmd
}
