package main

import (
	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-plt-access/internal/repository"
	"github.com/pesio-ai/be-plt-access/internal/service"
)

func createAdminCmd() *cobra.Command {
	var req service.SuperAdminRequest

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create or reset the SUPER_ADMIN operator account",
		Long: `Create an ACTIVE SUPER_ADMIN account without approval.
Running it again with the same email resets that account's password and
reactivates it.`,
		Example: `  access create-admin --username root --email root@example.com --password 'Str0ng!Pass'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			pool, err := openPool(ctx, cfg.Database, log)
			if err != nil {
				return err
			}
			defer pool.Close()

			store := service.NewStore(repository.NewStore(pool, log))
			rbac := service.NewRBACService(store, cfg.Cache, log)
			users := service.NewUserService(store, rbac, cfg.Auth, log)

			user, created, err := users.EnsureSuperAdmin(ctx, &req)
			if err != nil {
				return err
			}
			log.Info().
				Int64("user_id", user.ID).
				Bool("created", created).
				Msg("Super admin ready")
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Username, "username", "", "Admin username")
	cmd.Flags().StringVar(&req.Email, "email", "", "Admin email address")
	cmd.Flags().StringVar(&req.Password, "password", "", "Admin password")
	cmd.Flags().StringVar(&req.FirstName, "first-name", "", "Admin first name")
	cmd.Flags().StringVar(&req.LastName, "last-name", "", "Admin last name")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
