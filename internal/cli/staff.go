package cli

import (
	"fmt"

	"storagedesk/internal/domain"
	"storagedesk/internal/repository"
	"storagedesk/internal/service"

	"github.com/spf13/cobra"
)

func StaffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "staff",
		Short: "Manage back-office accounts",
	}
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a staff account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			name, _ := cmd.Flags().GetString("name")
			password, _ := cmd.Flags().GetString("password")
			role, _ := cmd.Flags().GetString("role")

			a, closeApp, err := openApp()
			if err != nil {
				return err
			}
			defer closeApp()
			svc := service.NewAuthService(a.Cfg, repository.NewStaffRepository(a.DB))
			st, err := svc.CreateStaff(cmd.Context(), email, name, password, role)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) id=%d\n", st.Email, st.Role, st.ID)
			return nil
		},
	}
	add.Flags().String("email", "", "login email")
	add.Flags().String("name", "", "display name")
	add.Flags().String("password", "", "password, at least 8 characters")
	add.Flags().String("role", domain.RoleClerk, "admin, manager or clerk")
	_ = add.MarkFlagRequired("email")
	_ = add.MarkFlagRequired("password")
	cmd.AddCommand(add)
	return cmd
}
